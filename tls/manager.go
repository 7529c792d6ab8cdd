package tls

import (
	"bufio"
	"crypto/sha256"
	cryptotls "crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jittering/truststore"
)

// Issuer installs a local CA and issues relay certificates from it.
type Issuer interface {
	Install() error
	MakeCert(hosts []string, dir string) (certFile, keyFile string, err error)
}

// truststoreIssuer issues certificates with a truststore CA kept in caDir.
type truststoreIssuer struct {
	caDir string
}

func (i *truststoreIssuer) prepare() error {
	if err := os.MkdirAll(i.caDir, 0700); err != nil {
		return fmt.Errorf("failed to create CA directory: %w", err)
	}
	// truststore reads its CA location from CAROOT.
	return os.Setenv("CAROOT", i.caDir)
}

func (i *truststoreIssuer) Install() error {
	if err := i.prepare(); err != nil {
		return err
	}
	lib, err := truststore.NewLib()
	if err != nil {
		return fmt.Errorf("failed to initialize truststore: %w", err)
	}
	return lib.Install()
}

func (i *truststoreIssuer) MakeCert(hosts []string, dir string) (string, string, error) {
	if err := i.prepare(); err != nil {
		return "", "", err
	}
	lib, err := truststore.NewLib()
	if err != nil {
		return "", "", fmt.Errorf("failed to initialize truststore: %w", err)
	}
	cert, err := lib.MakeCert(hosts, dir)
	if err != nil {
		return "", "", err
	}
	return cert.CertFile, cert.KeyFile, nil
}

// Manager keeps the relay's TLS certificate current for the machine's
// addresses and hands clients the CA they need to trust it.
type Manager struct {
	configDir  string
	tlsDir     string
	caDir      string
	caCertFile string
	certFile   string
	keyFile    string
	hostsFile  string
	issuer     Issuer
	logger     *log.Logger
}

// NewManager creates a TLS manager rooted at configDir.
func NewManager(configDir string) *Manager {
	caDir := filepath.Join(configDir, "ca")
	return NewManagerWithIssuer(configDir, &truststoreIssuer{caDir: caDir})
}

// NewManagerWithIssuer creates a TLS manager that issues certificates with
// issuer.
func NewManagerWithIssuer(configDir string, issuer Issuer) *Manager {
	tlsDir := filepath.Join(configDir, "tls")
	caDir := filepath.Join(configDir, "ca")
	return &Manager{
		configDir:  configDir,
		tlsDir:     tlsDir,
		caDir:      caDir,
		caCertFile: filepath.Join(caDir, "rootCA.pem"),
		certFile:   filepath.Join(tlsDir, "relay.crt"),
		keyFile:    filepath.Join(tlsDir, "relay.key"),
		hostsFile:  filepath.Join(tlsDir, "hosts.txt"),
		issuer:     issuer,
		logger:     log.New(os.Stderr, "[tls] ", log.LstdFlags),
	}
}

// EnsureCertificates returns the relay's certificate and key files,
// issuing a new pair when none exist or the host list changed. A nil hosts
// uses GetAllHosts. Installing the CA may prompt the user for a password.
func (m *Manager) EnsureCertificates(hosts []string) (certFile, keyFile string, err error) {
	if err := os.MkdirAll(m.tlsDir, 0700); err != nil {
		return "", "", fmt.Errorf("failed to create TLS directory: %w", err)
	}

	if hosts == nil {
		if hosts, err = GetAllHosts(); err != nil {
			m.logger.Printf("Warning: failed to get LAN IPs: %v", err)
		}
	}

	switch {
	case !m.certsExist():
		m.logger.Println("Certificates not found, generating...")
	case m.hostsChanged(hosts):
		m.logger.Println("Network configuration changed, regenerating certificates...")
	default:
		m.logger.Println("Using existing certificates")
		return m.certFile, m.keyFile, nil
	}

	if err := m.generateCertificates(hosts); err != nil {
		return "", "", err
	}
	return m.certFile, m.keyFile, nil
}

func (m *Manager) certsExist() bool {
	_, certErr := os.Stat(m.certFile)
	_, keyErr := os.Stat(m.keyFile)
	return certErr == nil && keyErr == nil
}

// hostsChanged reports whether hosts differ, as a set, from the hosts the
// current certificate was issued for.
func (m *Manager) hostsChanged(hosts []string) bool {
	cached, err := m.readCachedHosts()
	if err != nil {
		return true
	}
	a := slices.Clone(cached)
	b := slices.Clone(hosts)
	slices.Sort(a)
	slices.Sort(b)
	return !slices.Equal(slices.Compact(a), slices.Compact(b))
}

func (m *Manager) readCachedHosts() ([]string, error) {
	file, err := os.Open(m.hostsFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var hosts []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if host := strings.TrimSpace(scanner.Text()); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts, scanner.Err()
}

func (m *Manager) writeCachedHosts(hosts []string) error {
	return os.WriteFile(m.hostsFile, []byte(strings.Join(hosts, "\n")+"\n"), 0600)
}

func (m *Manager) generateCertificates(hosts []string) error {
	m.logger.Println("Ensuring CA is installed in system trust store (you may be prompted for your password)...")
	if err := m.issuer.Install(); err != nil {
		return fmt.Errorf("failed to install CA: %w", err)
	}

	m.logger.Printf("Generating certificate for hosts: %v", hosts)
	certFile, keyFile, err := m.issuer.MakeCert(hosts, m.tlsDir)
	if err != nil {
		return fmt.Errorf("failed to generate certificate: %w", err)
	}
	if certFile != m.certFile {
		if err := os.Rename(certFile, m.certFile); err != nil {
			return fmt.Errorf("failed to rename cert file: %w", err)
		}
	}
	if keyFile != m.keyFile {
		if err := os.Rename(keyFile, m.keyFile); err != nil {
			return fmt.Errorf("failed to rename key file: %w", err)
		}
	}

	if err := m.writeCachedHosts(hosts); err != nil {
		m.logger.Printf("Warning: failed to cache hosts: %v", err)
	}
	m.logger.Printf("Certificate generated: %s", m.certFile)
	if fingerprint, err := m.CAFingerprint(); err == nil {
		m.logger.Printf("CA Fingerprint (SHA256): %s", fingerprint)
	}
	return nil
}

// CertFile returns the path to the relay certificate.
func (m *Manager) CertFile() string {
	return m.certFile
}

// KeyFile returns the path to the relay key.
func (m *Manager) KeyFile() string {
	return m.keyFile
}

// CACertFile returns the path to the CA certificate.
func (m *Manager) CACertFile() string {
	return m.caCertFile
}

// ReadCACert returns the CA certificate PEM data.
func (m *Manager) ReadCACert() ([]byte, error) {
	return os.ReadFile(m.caCertFile)
}

// CAFingerprint returns the SHA256 fingerprint of the CA certificate as
// colon separated hex.
func (m *Manager) CAFingerprint() (string, error) {
	cert, err := m.caCertificate()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}

// ClientConfig returns a TLS config that trusts the relay CA in addition
// to the system roots. Relay clients dial wss:// URLs with it.
func (m *Manager) ClientConfig() (*cryptotls.Config, error) {
	cert, err := m.caCertificate()
	if err != nil {
		return nil, err
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	pool.AddCert(cert)
	return &cryptotls.Config{RootCAs: pool, MinVersion: cryptotls.VersionTLS12}, nil
}

func (m *Manager) caCertificate() (*x509.Certificate, error) {
	certPEM, err := m.ReadCACert()
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}
