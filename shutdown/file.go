package shutdown

import (
	"fmt"
	"net/url"
	"time"

	"sigs.k8s.io/yaml"
)

// ActionConfig is one entry of the declarative shutdown action file. The
// file is a YAML list; a kind of http-get or http-post takes a url, a kind
// of signal takes a signal name. An entry-level timeout overrides the
// global --shutdown-timeout for that action.
type ActionConfig struct {
	Kind    string `json:"kind"`
	URL     string `json:"url,omitempty"`
	Signal  string `json:"signal,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// Validate checks that the entry has all required fields for its kind.
func (c ActionConfig) Validate(allowSignal bool) error {
	switch c.Kind {
	case "http-get", "http-post":
		if c.URL == "" {
			return fmt.Errorf("invalid shutdown action: kind %q requires 'url'", c.Kind)
		}
		if c.Signal != "" {
			return fmt.Errorf("invalid shutdown action: kind %q does not take 'signal'", c.Kind)
		}
	case "signal":
		if !allowSignal {
			return fmt.Errorf("invalid shutdown action: signal actions are not compiled into this build")
		}
		if c.Signal == "" {
			return fmt.Errorf("invalid shutdown action: kind \"signal\" requires 'signal'")
		}
		if c.URL != "" {
			return fmt.Errorf("invalid shutdown action: kind \"signal\" does not take 'url'")
		}
	case "":
		return fmt.Errorf("invalid shutdown action: missing 'kind'")
	default:
		return fmt.Errorf("invalid shutdown action: unknown kind %q", c.Kind)
	}
	return nil
}

// ParseActionConfigs parses a YAML list of shutdown action definitions. All
// entries are validated and exact duplicates are rejected. defaultTimeout
// applies to HTTP entries without their own timeout.
func ParseActionConfigs(data []byte, defaultTimeout time.Duration, allowSignal bool) ([]Action, error) {
	var configs []ActionConfig
	if err := yaml.UnmarshalStrict(data, &configs); err != nil {
		return nil, fmt.Errorf("parsing shutdown actions: %w", err)
	}

	seen := make(map[ActionConfig]bool, len(configs))
	actions := make([]Action, 0, len(configs))
	for _, c := range configs {
		if err := c.Validate(allowSignal); err != nil {
			return nil, err
		}
		if seen[c] {
			target := c.URL
			if target == "" {
				target = c.Signal
			}
			return nil, fmt.Errorf("invalid shutdown action: duplicate %s entry %q", c.Kind, target)
		}
		seen[c] = true

		timeout := defaultTimeout
		if c.Timeout != "" {
			d, err := time.ParseDuration(c.Timeout)
			if err != nil {
				return nil, fmt.Errorf("invalid shutdown action timeout %q: %w", c.Timeout, err)
			}
			timeout = d
		}

		switch c.Kind {
		case "http-get", "http-post":
			u, err := url.Parse(c.URL)
			if err != nil {
				return nil, fmt.Errorf("invalid shutdown action url %q: %w", c.URL, err)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return nil, fmt.Errorf("invalid shutdown action url %q: scheme must be http or https", c.URL)
			}
			if c.Kind == "http-get" {
				actions = append(actions, NewHTTPGet(u, timeout))
			} else {
				actions = append(actions, NewHTTPPost(u, timeout))
			}
		case "signal":
			a, err := NewSignalBroadcast(c.Signal)
			if err != nil {
				return nil, err
			}
			actions = append(actions, a)
		}
	}

	return actions, nil
}
