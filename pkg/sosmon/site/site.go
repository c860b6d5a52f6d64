// Package site describes the SOS installation a monitoring run works
// against: which site it is, where the servers directory lives, whether
// this host is a repository or a replica, and the web URL to check.
//
// A Context is derived once from the host and sosmgr, saved as a JSON
// snapshot, and passed explicitly to everything that needs it. The
// process environment is never modified; admin tools receive the
// variables they need through Context.Env.
package site

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jamesainslie/sosmon/pkg/sosmon/logging"
	"github.com/jamesainslie/sosmon/pkg/sosmon/shell"
)

// Role is the part a host plays in SOS replication.
type Role string

const (
	RoleRepo    Role = "repo"
	RoleReplica Role = "replica"
)

// TestSiteCode is used in place of the host's site when running on the
// DDM test server.
const TestSiteCode = "ddm"

// PrimarySiteCode is the only site whose repository hosts use the shared
// default servers directory.
const PrimarySiteCode = "sc"

var (
	// ErrInvalidSnapshot is returned for unreadable or incomplete snapshots.
	ErrInvalidSnapshot = errors.New("invalid site snapshot")

	// ErrNoSiteCode is returned when the host name has no site label.
	ErrNoSiteCode = errors.New("cannot determine site code from host name")

	// ErrNoSiteURL is returned when sosmgr does not report a site row.
	ErrNoSiteURL = errors.New("sosmgr reported no site url")
)

// Context is the immutable site description for one run.
type Context struct {
	SiteName    string `json:"site_name" validate:"required"`
	SiteURL     string `json:"site_url" validate:"required,url"`
	ServerRole  Role   `json:"server_role" validate:"oneof=repo replica"`
	ServersDir  string `json:"sos_servers_dir" validate:"required"`
	CliosoftDir string `json:"sos_cliosoft_dir" validate:"required"`
	ECZone      string `json:"ec_zone" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports missing or malformed fields as ErrInvalidSnapshot.
func (c Context) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return fmt.Errorf("%w: bad fields %s", ErrInvalidSnapshot, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return nil
}

// Code returns the site code used for the stod cell and data file names.
func (c Context) Code() string {
	return c.ECZone
}

// Env returns the variables the SOS admin tools expect.
func (c Context) Env() []string {
	return []string{
		"SOS_SERVERS_DIR=" + c.ServersDir,
		"CLIOSOFT_DIR=" + c.CliosoftDir,
		"SOS_SERVER_ROLE=" + string(c.ServerRole),
		"EC_ZONE=" + c.ECZone,
	}
}

// RoleForServersDir returns RoleReplica when dir ends in "replica".
func RoleForServersDir(dir string) Role {
	if strings.HasSuffix(strings.TrimRight(dir, "/"), "replica") {
		return RoleReplica
	}
	return RoleRepo
}

// SiteCode returns the second label of a fully qualified host name, so
// "host01.sc.example.com" belongs to site "sc".
func SiteCode(fqdn string) (string, error) {
	labels := strings.Split(strings.TrimSuffix(fqdn, "."), ".")
	if len(labels) < 2 || labels[1] == "" {
		return "", fmt.Errorf("%w: %q", ErrNoSiteCode, fqdn)
	}
	return strings.ToLower(labels[1]), nil
}

// HostFQDN returns the fully qualified name of this host, falling back
// to a reverse lookup when the kernel host name is short.
func HostFQDN() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("reading host name: %w", err)
	}
	if strings.Contains(host, ".") {
		return host, nil
	}

	if cname, err := net.LookupCNAME(host); err == nil && strings.Contains(strings.TrimSuffix(cname, "."), ".") {
		return strings.TrimSuffix(cname, "."), nil
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		return host, nil
	}
	for _, addr := range addrs {
		names, err := net.LookupAddr(addr)
		if err != nil {
			continue
		}
		for _, name := range names {
			if name = strings.TrimSuffix(name, "."); strings.Contains(name, ".") {
				return name, nil
			}
		}
	}
	return host, nil
}

// ResolveServersDir picks the servers directory for a site. The link's
// target is used for replicas and for every site but the primary; the
// primary's repository hosts use the shared default directory.
func ResolveServersDir(link, defaultDir, code string, evalSymlinks func(string) (string, error)) string {
	if evalSymlinks == nil {
		evalSymlinks = filepath.EvalSymlinks
	}
	target, err := evalSymlinks(link)
	if err != nil {
		target = link
	}
	if strings.Contains(target, "replica") || code != PrimarySiteCode {
		return target
	}
	return defaultDir
}

// ParseSiteURL extracts the site name and URL from the CSV printed by
// "sosmgr site get -o csv --url". Blank lines and the header are ignored
// and the last data row wins; it is split on its first comma.
func ParseSiteURL(stdout string) (string, string, error) {
	var last string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "site,url") {
			continue
		}
		last = line
	}

	name, url, ok := strings.Cut(last, ",")
	name = strings.TrimSuffix(strings.TrimSpace(name), ":")
	url = strings.TrimSpace(url)
	if !ok || name == "" || url == "" {
		return "", "", ErrNoSiteURL
	}
	return name, url, nil
}

// Deriver builds a Context from the host and the SOS tools.
type Deriver struct {
	Exec              shell.Executor
	Sosmgr            string
	Timeout           time.Duration
	CliosoftDir       string
	ServersLink       string
	DefaultServersDir string

	// EvalSymlinks resolves the servers link; nil uses filepath.EvalSymlinks.
	EvalSymlinks func(string) (string, error)
}

// Derive computes the Context for site code.
func (d *Deriver) Derive(ctx context.Context, code string) (Context, error) {
	log := logging.Get("site")

	serversDir := ResolveServersDir(d.ServersLink, d.DefaultServersDir, code, d.EvalSymlinks)
	sc := Context{
		ServerRole:  RoleForServersDir(serversDir),
		ServersDir:  serversDir,
		CliosoftDir: d.CliosoftDir,
		ECZone:      code,
	}

	out, err := d.Exec.Run(ctx, shell.Command{
		Name:    d.Sosmgr,
		Args:    []string{"site", "get", "-o", "csv", "--url"},
		Timeout: d.Timeout,
		Env:     sc.Env(),
	})
	if err != nil {
		return Context{}, fmt.Errorf("querying site url: %w", err)
	}

	sc.SiteName, sc.SiteURL, err = ParseSiteURL(out.Stdout)
	if err != nil {
		return Context{}, err
	}
	if err := sc.Validate(); err != nil {
		return Context{}, err
	}

	log.Debug("site derived",
		"site", sc.SiteName,
		"url", sc.SiteURL,
		"role", sc.ServerRole,
		"servers_dir", sc.ServersDir,
		"ec_zone", sc.ECZone,
	)
	return sc, nil
}
