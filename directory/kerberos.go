package directory

import (
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

// kerberosBind authenticates an established connection via GSSAPI.
func kerberosBind(conn *ldap.Conn, cfg *ConnectionConfig, server *ServerInfo) error {
	if err := prepareKerberosConfig(cfg); err != nil {
		return errors.Wrap(err, "kerberos configuration")
	}

	client, err := newGSSAPIClient(cfg)
	if err != nil {
		return errors.Wrap(err, "create GSSAPI client")
	}
	defer func() {
		_ = client.DeleteSecContext()
	}()

	spn, err := servicePrincipal(cfg, server)
	if err != nil {
		return err
	}

	if err := conn.GSSAPIBind(client, spn, ""); err != nil {
		return errors.Wrap(err, "GSSAPI bind")
	}
	return nil
}

// newGSSAPIClient builds a GSSAPI client from the first available credential
// source: explicit credential cache, default credential cache, explicit
// keytab, default keytab, then password.
func newGSSAPIClient(cfg *ConnectionConfig) (ldap.GSSAPIClient, error) {
	confPath := cfg.KerberosConfig
	if confPath == "" {
		confPath = "/etc/krb5.conf"
	}
	if !fileReadable(confPath) {
		return nil, errors.Newf("kerberos configuration file not found at %s", confPath)
	}

	if cfg.KerberosCCache != "" && fileReadable(cfg.KerberosCCache) {
		return gssapi.NewClientFromCCache(cfg.KerberosCCache, confPath, krb5client.DisablePAFXFAST(true))
	}
	if ccache := defaultCCachePath(); fileReadable(ccache) {
		return gssapi.NewClientFromCCache(ccache, confPath, krb5client.DisablePAFXFAST(true))
	}
	if cfg.KerberosKeytab != "" && fileReadable(cfg.KerberosKeytab) {
		return gssapi.NewClientWithKeytab(cfg.Username, cfg.KerberosRealm, cfg.KerberosKeytab, confPath, krb5client.DisablePAFXFAST(true))
	}
	if cfg.Username != "" {
		if keytab := defaultKeytabPath(); fileReadable(keytab) {
			return gssapi.NewClientWithKeytab(cfg.Username, cfg.KerberosRealm, keytab, confPath, krb5client.DisablePAFXFAST(true))
		}
	}
	if cfg.Username != "" && cfg.Password != "" {
		return gssapi.NewClientWithPassword(cfg.Username, cfg.KerberosRealm, cfg.Password, confPath, krb5client.DisablePAFXFAST(true))
	}

	return nil, errors.New("no suitable credentials found for Kerberos authentication")
}

// servicePrincipal derives the LDAP SPN for a server, honoring an explicit
// override.
func servicePrincipal(cfg *ConnectionConfig, server *ServerInfo) (string, error) {
	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}
	if server == nil || server.Host == "" {
		return "", errors.New("server host is required for service principal")
	}
	host := server.Host
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return "ldap/" + host, nil
}

// prepareKerberosConfig normalizes the Kerberos settings: the realm may be
// carried in a user@REALM username, and some credential source must exist.
func prepareKerberosConfig(cfg *ConnectionConfig) error {
	if cfg.KerberosConfig == "" {
		cfg.KerberosConfig = "/etc/krb5.conf"
	}

	if cfg.KerberosRealm == "" {
		if name, realm, found := strings.Cut(cfg.Username, "@"); found && name != "" && realm != "" {
			cfg.KerberosRealm = realm
			cfg.Username = name
		}
	}

	if cfg.KerberosRealm == "" {
		return errors.New("kerberos realm is required (set it explicitly or include it in the username)")
	}
	if cfg.Username == "" {
		return errors.New("username (principal) is required for Kerberos authentication")
	}

	hasCredentials := (cfg.KerberosCCache != "" && fileReadable(cfg.KerberosCCache)) ||
		fileReadable(defaultCCachePath()) ||
		(cfg.KerberosKeytab != "" && fileReadable(cfg.KerberosKeytab)) ||
		fileReadable(defaultKeytabPath()) ||
		cfg.Password != ""
	if !hasCredentials {
		return errors.New("no Kerberos credentials found: provide a credential cache, keytab, or password")
	}
	return nil
}

func defaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

func defaultKeytabPath() string {
	if keytab := os.Getenv("KRB5_KTNAME"); keytab != "" {
		return strings.TrimPrefix(keytab, "FILE:")
	}
	return "/etc/krb5.keytab"
}

func fileReadable(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}
