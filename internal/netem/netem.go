// Package netem models network-emulation link profiles and the controller
// that applies them via the Linux tc(8) netem qdisc.
package netem

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is one named link condition: round-trip latency, jitter, and
// packet loss.
type Profile struct {
	Name        string
	RTTMs       int     `yaml:"rtt_ms"`
	JitterMs    int     `yaml:"jitter_ms"`
	Loss        float64 `yaml:"loss"`
	Description string  `yaml:"description"`
}

type profilesDoc struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadProfiles reads a YAML file of named link profiles. The document may
// either nest profiles under a top-level "profiles" key or be the profile
// map itself.
func LoadProfiles(path string) (map[string]Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("netem: read %s: %w", path, err)
	}

	var doc profilesDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("netem: parse %s: %w", path, err)
	}

	profiles := doc.Profiles
	if profiles == nil {
		if err := yaml.Unmarshal(raw, &profiles); err != nil {
			return nil, fmt.Errorf("netem: parse %s: %w", path, err)
		}
	}

	for name, p := range profiles {
		p.Name = name
		profiles[name] = p
	}
	return profiles, nil
}

// Controller applies and clears netem link profiles on a network
// interface via tc(8).
type Controller struct {
	// Interface is the network interface tc commands target, e.g. "lo".
	Interface string
	// Runner executes a tc argv vector; overridable for testing. Defaults
	// to exec.Command(...).Run.
	Runner func(argv []string) error
}

// NewController builds a Controller for the given interface.
func NewController(iface string) *Controller {
	return &Controller{
		Interface: iface,
		Runner: func(argv []string) error {
			cmd := exec.Command(argv[0], argv[1:]...)
			return cmd.Run()
		},
	}
}

// Apply builds (and, unless dryRun, executes) the tc command that
// installs profile's netem qdisc on the controller's interface. In
// dry-run mode it returns the argv without checking for tc or root
// privilege.
func (c *Controller) Apply(profile Profile, dryRun bool) ([]string, error) {
	argv := []string{"tc", "qdisc", "replace", "dev", c.Interface, "root", "netem"}
	if profile.RTTMs > 0 {
		delay := fmt.Sprintf("delay %dms", profile.RTTMs)
		if profile.JitterMs > 0 {
			delay += fmt.Sprintf(" %dms distribution normal", profile.JitterMs)
		}
		argv = append(argv, strings.Fields(delay)...)
	}
	if profile.Loss > 0 {
		argv = append(argv, "loss", formatPercent(profile.Loss)+"%")
	}

	if dryRun {
		return argv, nil
	}
	if err := c.checkPrivileges(); err != nil {
		return argv, err
	}
	return argv, c.Runner(argv)
}

// Clear removes any netem qdisc installed on the controller's interface.
func (c *Controller) Clear(dryRun bool) ([]string, error) {
	argv := []string{"tc", "qdisc", "del", "dev", c.Interface, "root"}
	if dryRun {
		return argv, nil
	}
	if err := c.checkPrivileges(); err != nil {
		return argv, err
	}
	return argv, c.Runner(argv)
}

func (c *Controller) checkPrivileges() error {
	if _, err := exec.LookPath("tc"); err != nil {
		return fmt.Errorf("netem: tc binary not found: %w", os.ErrNotExist)
	}
	if os.Geteuid() != 0 {
		return fmt.Errorf("netem: applying a link profile requires root: %w", os.ErrPermission)
	}
	return nil
}

func formatPercent(loss float64) string {
	s := strconv.FormatFloat(loss, 'f', -1, 64)
	return s
}
