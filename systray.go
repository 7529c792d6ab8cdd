package main

import (
	"log"
	"time"

	"fyne.io/systray"

	"github.com/dotside-studios/nfcdata/buildinfo"
	"github.com/dotside-studios/nfcdata/screens"
)

// screenItem is a tray entry that opens a screen.
type screenItem struct {
	menuItem *systray.MenuItem
	name     string
}

// SystrayApp is the tray menu. It plays the main page: each screen is a
// menu entry, and writer screens publish the payload given on the command
// line.
type SystrayApp struct {
	agent   *Agent
	actions actions
	device  string

	nav *screens.Navigator

	mStatus     *systray.MenuItem
	mLast       *systray.MenuItem
	mScreens    *systray.MenuItem
	mBack       *systray.MenuItem
	mDeviceMenu *systray.MenuItem
	mRefresh    *systray.MenuItem
	mRelay      *systray.MenuItem
	mQuit       *systray.MenuItem

	screenItems     []screenItem
	deviceMenuItems map[string]*systray.MenuItem
}

// NewSystrayApp creates the tray app for agent.
func NewSystrayApp(agent *Agent, device string, acts actions) *SystrayApp {
	return &SystrayApp{
		agent:           agent,
		actions:         acts,
		device:          device,
		deviceMenuItems: make(map[string]*systray.MenuItem),
	}
}

// Run blocks until the tray exits.
func (s *SystrayApp) Run() {
	systray.Run(s.onReady, s.onExit)
}

func (s *SystrayApp) onReady() {
	s.setupUI()
	s.openNavigator()
	s.updateDeviceList()
	go s.handleMenuEvents()
}

func (s *SystrayApp) onExit() {
	s.agent.Stop()
}

func (s *SystrayApp) setupUI() {
	systray.SetIcon(iconData)
	systray.SetTitle(buildinfo.DisplayName)
	systray.SetTooltip(buildinfo.Description)

	s.mStatus = systray.AddMenuItem("Choose a screen", "Status")
	s.mStatus.Disable()
	s.mLast = systray.AddMenuItem("Nothing received", "Last event")
	s.mLast.Disable()

	systray.AddSeparator()

	s.mScreens = systray.AddMenuItem("Screens", "Open a screen")
	for _, name := range screens.Names() {
		item := s.mScreens.AddSubMenuItemCheckbox(name, "Open "+name, false)
		s.screenItems = append(s.screenItems, screenItem{menuItem: item, name: name})
	}
	s.mBack = systray.AddMenuItem("Back", "Return to the previous screen")
	s.mBack.Disable()

	s.mDeviceMenu = systray.AddMenuItem("Device", "Select proximity device")
	s.mRefresh = s.mDeviceMenu.AddSubMenuItem("Refresh Devices", "Refresh device list")

	systray.AddSeparator()
	s.mRelay = systray.AddMenuItemCheckbox("Serve Relay", "Share the peer field over the network", s.agent.RelayRunning())

	systray.AddSeparator()
	s.mQuit = systray.AddMenuItem("Quit", "Quit the application")
}

// openNavigator replaces the navigator with one on the selected device.
func (s *SystrayApp) openNavigator() {
	if s.nav != nil {
		s.nav.Close()
	}
	s.nav = s.agent.OpenScreens(s.device)
	for _, item := range s.screenItems {
		item.menuItem.Uncheck()
	}
	s.mBack.Disable()
	go s.consumeEvents(s.nav)
}

func (s *SystrayApp) consumeEvents(nav *screens.Navigator) {
	for ev := range nav.Events() {
		log.Printf("[tray] %s", describeEvent(ev))
		switch ev.Kind {
		case screens.EventContent:
			s.mLast.SetTitle(describeEvent(ev))
			systray.SetIcon(iconDataRunning)
		case screens.EventError, screens.EventAlert:
			s.mStatus.SetTitle(describeEvent(ev))
			systray.SetIcon(iconDataError)
		default:
			s.mStatus.SetTitle(describeEvent(ev))
			systray.SetIcon(iconDataRunning)
		}
	}
}

func (s *SystrayApp) handleMenuEvents() {
	// Screen and device items are polled; their set changes at runtime.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.mQuit.ClickedCh:
			systray.Quit()
			return
		case <-s.mBack.ClickedCh:
			s.goBack()
		case <-s.mRefresh.ClickedCh:
			s.updateDeviceList()
		case <-s.mRelay.ClickedCh:
			s.toggleRelay()
		case <-s.agent.DeviceChanges():
			s.updateDeviceList()
		case <-ticker.C:
		}

		for _, item := range s.screenItems {
			select {
			case <-item.menuItem.ClickedCh:
				s.openScreen(item)
			default:
			}
		}
		s.handleDeviceSelection()
	}
}

func (s *SystrayApp) openScreen(item screenItem) {
	screen, err := screens.New(item.name)
	if err != nil {
		log.Printf("[tray] %v", err)
		return
	}
	if err := s.nav.Navigate(screen); err != nil {
		log.Printf("[tray] %v", err)
		return
	}
	for _, other := range s.screenItems {
		other.menuItem.Uncheck()
	}
	item.menuItem.Check()
	if s.nav.CanGoBack() {
		s.mBack.Enable()
	}
	if err := s.actions.run(screen); err != nil {
		log.Printf("[tray] %s: %v", item.name, err)
	}
}

func (s *SystrayApp) goBack() {
	if !s.nav.GoBack() {
		return
	}
	current := s.nav.Current().Name()
	for _, item := range s.screenItems {
		if item.name == current {
			item.menuItem.Check()
		} else {
			item.menuItem.Uncheck()
		}
	}
	if !s.nav.CanGoBack() {
		s.mBack.Disable()
	}
}

func (s *SystrayApp) toggleRelay() {
	if s.agent.RelayRunning() {
		s.agent.StopRelay()
		s.mRelay.Uncheck()
		return
	}
	if err := s.agent.StartRelay(); err != nil {
		log.Printf("[tray] relay: %v", err)
		s.mStatus.SetTitle("Relay failed to start")
		return
	}
	s.mRelay.Check()
}

func (s *SystrayApp) handleDeviceSelection() {
	for name, item := range s.deviceMenuItems {
		select {
		case <-item.ClickedCh:
			if name == s.device {
				continue
			}
			for _, other := range s.deviceMenuItems {
				other.Uncheck()
			}
			item.Check()
			s.device = name
			s.openNavigator()
			s.mStatus.SetTitle("Device: " + name)
		default:
		}
	}
}

func (s *SystrayApp) updateDeviceList() {
	for _, item := range s.deviceMenuItems {
		item.Hide()
	}
	s.deviceMenuItems = make(map[string]*systray.MenuItem)

	devices, err := s.agent.Devices()
	if err != nil {
		log.Printf("[tray] listing devices: %v", err)
		return
	}
	for _, device := range devices {
		item := s.mDeviceMenu.AddSubMenuItemCheckbox(device, "Use this device", device == s.device)
		s.deviceMenuItems[device] = item
	}
}
