package transport

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"golang.org/x/crypto/pkcs12"

	"github.com/keboola/go-svc/pkg/request"
)

// TLSConfig contains TLS parameters of the encrypted transport.
// Keys and certificates are PEM encoded, PFX is a PKCS#12 bundle.
type TLSConfig struct {
	// PFX is a PKCS#12 bundle with the client private key and certificate chain.
	PFX []byte
	// Key is the client private key, it may be encrypted by the Passphrase.
	Key []byte
	// Passphrase decrypts the Key or the PFX bundle.
	Passphrase string
	// Cert is the client certificate chain.
	Cert []byte
	// CA replaces the system certificate pool, if set.
	CA [][]byte
	// Ciphers is a colon-separated list of cipher suite names, for example "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256".
	Ciphers string
	// RejectUnauthorized, if false, disables verification of the server certificate. Defaults to true.
	RejectUnauthorized *bool
	// SecureProtocol limits the protocol version, for example "TLSv1_2_method".
	SecureProtocol string
}

// TLS converts the parameters to the crypto/tls configuration for the server name.
func (c TLSConfig) TLS(serverName string) (*tls.Config, error) {
	out := &tls.Config{ServerName: serverName} //nolint:gosec // MinVersion is controlled by SecureProtocol

	if c.RejectUnauthorized != nil && !*c.RejectUnauthorized {
		out.InsecureSkipVerify = true //nolint:gosec
	}

	if len(c.CA) > 0 {
		pool := x509.NewCertPool()
		for i, ca := range c.CA {
			if !pool.AppendCertsFromPEM(ca) {
				return nil, fmt.Errorf("%w: cannot parse `tls.ca[%d]`", request.ErrInvalidConfig, i)
			}
		}
		out.RootCAs = pool
	}

	if len(c.PFX) > 0 {
		cert, err := c.pfxCertificate()
		if err != nil {
			return nil, err
		}
		out.Certificates = append(out.Certificates, cert)
	}

	if len(c.Key) > 0 || len(c.Cert) > 0 {
		cert, err := c.pemCertificate()
		if err != nil {
			return nil, err
		}
		out.Certificates = append(out.Certificates, cert)
	}

	if c.Ciphers != "" {
		suites, err := parseCiphers(c.Ciphers)
		if err != nil {
			return nil, err
		}
		out.CipherSuites = suites
	}

	if c.SecureProtocol != "" {
		version, err := parseProtocol(c.SecureProtocol)
		if err != nil {
			return nil, err
		}
		out.MinVersion = version
		out.MaxVersion = version
	}

	return out, nil
}

func (c TLSConfig) pfxCertificate() (tls.Certificate, error) {
	blocks, err := pkcs12.ToPEM(c.PFX, c.Passphrase)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: cannot decode `tls.pfx`: %s", request.ErrInvalidConfig, err.Error())
	}

	var certPEM, keyPEM bytes.Buffer
	for _, block := range blocks {
		if strings.HasSuffix(block.Type, "PRIVATE KEY") {
			_ = pem.Encode(&keyPEM, block)
		} else {
			_ = pem.Encode(&certPEM, block)
		}
	}

	cert, err := tls.X509KeyPair(certPEM.Bytes(), keyPEM.Bytes())
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: invalid `tls.pfx`: %s", request.ErrInvalidConfig, err.Error())
	}
	return cert, nil
}

func (c TLSConfig) pemCertificate() (tls.Certificate, error) {
	if len(c.Key) == 0 || len(c.Cert) == 0 {
		return tls.Certificate{}, fmt.Errorf("%w: `tls.key` and `tls.cert` must be set together", request.ErrInvalidConfig)
	}

	key, err := c.decryptKey()
	if err != nil {
		return tls.Certificate{}, err
	}

	cert, err := tls.X509KeyPair(c.Cert, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: invalid `tls.key` or `tls.cert`: %s", request.ErrInvalidConfig, err.Error())
	}
	return cert, nil
}

// decryptKey decrypts a legacy encrypted PEM block, other keys are returned unchanged.
func (c TLSConfig) decryptKey() ([]byte, error) {
	block, _ := pem.Decode(c.Key)
	if block == nil || !x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		return c.Key, nil
	}

	if c.Passphrase == "" {
		return nil, fmt.Errorf("%w: `tls.key` is encrypted, but `tls.passphrase` is not set", request.ErrInvalidConfig)
	}

	der, err := x509.DecryptPEMBlock(block, []byte(c.Passphrase)) //nolint:staticcheck
	if err != nil {
		return nil, fmt.Errorf("%w: cannot decrypt `tls.key`: %s", request.ErrInvalidConfig, err.Error())
	}
	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}

func parseCiphers(str string) ([]uint16, error) {
	available := make(map[string]uint16)
	for _, suite := range tls.CipherSuites() {
		available[suite.Name] = suite.ID
	}
	for _, suite := range tls.InsecureCipherSuites() {
		available[suite.Name] = suite.ID
	}

	var out []uint16
	for _, name := range strings.FieldsFunc(str, func(r rune) bool { return r == ':' || r == ',' }) {
		name = strings.TrimSpace(name)
		id, found := available[name]
		if !found {
			return nil, fmt.Errorf("%w: unknown cipher suite `%s`", request.ErrInvalidConfig, name)
		}
		out = append(out, id)
	}
	return out, nil
}

func parseProtocol(name string) (uint16, error) {
	switch strings.TrimSuffix(strings.TrimSuffix(name, "_client_method"), "_method") {
	case "SSLv23", "TLS":
		// Negotiate the highest version supported by both sides
		return 0, nil
	case "TLSv1":
		return tls.VersionTLS10, nil
	case "TLSv1_1":
		return tls.VersionTLS11, nil
	case "TLSv1_2":
		return tls.VersionTLS12, nil
	case "TLSv1_3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("%w: unknown secure protocol `%s`", request.ErrInvalidConfig, name)
	}
}
