// Command nfcdata exchanges mime payloads and person records over NFC.
//
// It opens one of four screens on a proximity device: write-mime and
// write-person publish a payload to a tag or a nearby device, read-mime and
// read-person print what arrives. It can also serve the in-process peer
// field as a relay so devices on other machines join it.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"fyne.io/systray"

	"github.com/dotside-studios/nfcdata/buildinfo"
	"github.com/dotside-studios/nfcdata/config"
	"github.com/dotside-studios/nfcdata/nfc"
	"github.com/dotside-studios/nfcdata/screens"
)

// actions is the payload writer screens publish.
type actions struct {
	Text      string
	ImagePath string
	FirstName string
	LastName  string
}

// run performs the screen's action. Reader screens need none.
func (a actions) run(screen screens.Screen) error {
	switch s := screen.(type) {
	case *screens.WriteMimeScreen:
		if a.ImagePath != "" {
			return s.WriteImage(a.ImagePath)
		}
		return s.WriteText(a.Text)
	case *screens.WritePersonScreen:
		return s.WritePerson(a.FirstName, a.LastName)
	}
	return nil
}

func main() {
	var (
		configPath  string
		deviceFlag  string
		screenFlag  string
		targetFlag  string
		relayFlag   bool
		portFlag    int
		secretFlag  string
		cliFlag     bool
		listFlag    bool
		versionFlag bool
		acts        actions
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: <user config dir>/"+buildinfo.DirName+"/"+buildinfo.ConfigFileName+")")
	flag.StringVar(&deviceFlag, "device", "", "Proximity device, e.g. tag:usb:001, peer:kiosk, relay:ws://host:18393/ws")
	flag.StringVar(&screenFlag, "screen", "", "Screen to open in CLI mode: write-mime, read-mime, write-person, read-person")
	flag.StringVar(&targetFlag, "target", "", "Where writer screens publish: tag or peer")
	flag.BoolVar(&relayFlag, "relay", false, "Serve the peer field as a relay")
	flag.IntVar(&portFlag, "port", 0, "Relay port")
	flag.StringVar(&secretFlag, "secret", "", "Relay shared secret (optional)")
	flag.BoolVar(&cliFlag, "cli", false, "Run in CLI mode (default: system tray mode)")
	flag.BoolVar(&listFlag, "list", false, "List proximity devices and exit")
	flag.BoolVar(&versionFlag, "version", false, "Print version information and exit")
	flag.StringVar(&acts.Text, "text", "Hello world!", "Text written by write-mime")
	flag.StringVar(&acts.ImagePath, "image", "", "PNG file written by write-mime instead of -text")
	flag.StringVar(&acts.FirstName, "first", "", "First name written by write-person")
	flag.StringVar(&acts.LastName, "last", "", "Last name written by write-person")
	flag.Parse()

	if versionFlag {
		fmt.Println(buildinfo.BuildInfo())
		return
	}

	configDir, err := buildinfo.ConfigDir()
	if err != nil {
		log.Printf("Warning: %v", err)
	}
	cfg, err := loadConfig(configPath, configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags override the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			cfg.Device.Device = deviceFlag
		case "port":
			cfg.Relay.Port = portFlag
		case "secret":
			cfg.Relay.Secret = secretFlag
		case "target":
			target, err := nfc.ParseTarget(targetFlag)
			if err != nil {
				log.Fatalf("Invalid -target: %v", err)
			}
			cfg.Device.Target = target
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	agent, err := NewAgent(cfg, configDir)
	if err != nil {
		log.Fatalf("Failed to create agent: %v", err)
	}

	if listFlag {
		devices, err := agent.Devices()
		agent.Stop()
		if err != nil {
			log.Fatalf("Failed to list devices: %v", err)
		}
		for _, d := range devices {
			fmt.Println(d)
		}
		return
	}

	if relayFlag {
		if err := agent.StartRelay(); err != nil {
			log.Fatalf("Failed to start relay: %v", err)
		}
	}

	if !cliFlag {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			systray.Quit()
		}()
		NewSystrayApp(agent, cfg.Device.Device, acts).Run()
		return
	}

	defer agent.Stop()
	if screenFlag != "" {
		if err := runScreen(agent, screenFlag, acts); err != nil {
			log.Printf("Screen %s: %v", screenFlag, err)
			return
		}
	} else if !relayFlag {
		log.Printf("Nothing to do: pass -screen or -relay")
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received, stopping...")
}

// loadConfig reads path, or the default config file when path is empty and
// one exists.
func loadConfig(path, configDir string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if configDir != "" {
		path = filepath.Join(configDir, buildinfo.ConfigFileName)
		if _, err := os.Stat(path); err == nil {
			return config.Load(path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return config.Config{}, err
		}
	}
	return config.Default(), nil
}

// runScreen opens the named screen, performs its action and prints its
// events until the navigator closes.
func runScreen(agent *Agent, name string, acts actions) error {
	screen, err := screens.New(name)
	if err != nil {
		return err
	}
	nav := agent.OpenScreens("")
	go func() {
		for ev := range nav.Events() {
			fmt.Println(describeEvent(ev))
		}
	}()

	if err := nav.Navigate(screen); err != nil {
		return err
	}
	return acts.run(screen)
}
