package dnsclient

import (
	"crypto/tls"
	"crypto/x509"
	"net/netip"
	"sync"
)

// rootCAs loads the system trust store once; every TLS transport shares it.
var rootCAs = sync.OnceValues(x509.SystemCertPool)

func tlsConfigDoT(serverName string) *tls.Config {
	pool, _ := rootCAs()
	return &tls.Config{
		ServerName: serverName,
		RootCAs:    pool,
		NextProtos: []string{"dot", "h2"},
	}
}

func tlsConfigDoH(serverName string, addr netip.Addr) *tls.Config {
	pool, _ := rootCAs()
	cfg := &tls.Config{
		ServerName: serverName,
		RootCAs:    pool,
		NextProtos: []string{"h2"},
	}
	if serverName == addr.String() {
		// The server was configured by literal IP, so its certificate has
		// no matching name to verify. Keep the chain check, skip the
		// hostname check.
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = verifyChainOnly(pool)
	}
	return cfg
}

func verifyChainOnly(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		certs := make([]*x509.Certificate, len(rawCerts))
		for i, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return err
			}
			certs[i] = cert
		}
		opts := x509.VerifyOptions{
			Roots:         roots,
			Intermediates: x509.NewCertPool(),
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		}
		for _, cert := range certs[1:] {
			opts.Intermediates.AddCert(cert)
		}
		_, err := certs[0].Verify(opts)
		return err
	}
}
