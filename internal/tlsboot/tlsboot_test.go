package tlsboot_test

import (
	"crypto/x509"
	"path/filepath"
	"testing"

	"github.com/blitsync/blit/internal/tlsboot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSignedCertFingerprint(t *testing.T) {
	t.Parallel()

	cert, err := tlsboot.GenerateSelfSignedCert()
	require.NoError(t, err)

	fp, err := tlsboot.CertFingerprint(cert)
	require.NoError(t, err)
	assert.Contains(t, fp, "SHA256:")
}

func TestLoadOrGenerateCertPersistsAndReloads(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	certPath := filepath.Join(dir, "d.crt")
	keyPath := filepath.Join(dir, "d.key")

	cert1, fp1, err := tlsboot.LoadOrGenerateCert(certPath, keyPath)
	require.NoError(t, err)
	require.NotEmpty(t, cert1.Certificate)

	cert2, fp2, err := tlsboot.LoadOrGenerateCert(certPath, keyPath)
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2, "reloading the persisted cert should reproduce the same fingerprint")
	assert.Equal(t, cert1.Certificate[0], cert2.Certificate[0])
}

func TestStoreTrustsOnFirstUseThenRejectsChangedCert(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := tlsboot.NewStore(filepath.Join(dir, "known_hosts"))

	cert1, err := tlsboot.GenerateSelfSignedCert()
	require.NoError(t, err)
	leaf1, err := x509.ParseCertificate(cert1.Certificate[0])
	require.NoError(t, err)

	require.NoError(t, store.Verify("host.example", leaf1))
	require.NoError(t, store.Verify("host.example", leaf1), "re-verifying the same cert must succeed")

	cert2, err := tlsboot.GenerateSelfSignedCert()
	require.NoError(t, err)
	leaf2, err := x509.ParseCertificate(cert2.Certificate[0])
	require.NoError(t, err)

	err = store.Verify("host.example", leaf2)
	assert.Error(t, err, "a changed certificate for a known host must be rejected")
}

func TestStoreAcceptsDifferentHostsIndependently(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := tlsboot.NewStore(filepath.Join(dir, "known_hosts"))

	certA, err := tlsboot.GenerateSelfSignedCert()
	require.NoError(t, err)
	leafA, err := x509.ParseCertificate(certA.Certificate[0])
	require.NoError(t, err)

	certB, err := tlsboot.GenerateSelfSignedCert()
	require.NoError(t, err)
	leafB, err := x509.ParseCertificate(certB.Certificate[0])
	require.NoError(t, err)

	require.NoError(t, store.Verify("a.example", leafA))
	require.NoError(t, store.Verify("b.example", leafB))
}
