package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// ServerVersion is the protocol version reported in auth-success frames.
const ServerVersion = "3.2.0"

// Warning describes a version compatibility finding included in the
// auth-success reply. Nil means the versions match exactly.
type Warning struct {
	Level          string `json:"level"` // "warning" or "error"
	Message        string `json:"message"`
	UpgradeCommand string `json:"upgradeCommand,omitempty"`
}

type version struct {
	major, minor, patch int
}

func parseVersion(s string) (version, error) {
	parts := strings.SplitN(strings.TrimPrefix(s, "v"), ".", 3)
	if len(parts) != 3 {
		return version{}, fmt.Errorf("version %q is not major.minor.patch", s)
	}
	var v version
	var err error
	if v.major, err = strconv.Atoi(parts[0]); err != nil {
		return version{}, fmt.Errorf("version %q: bad major: %w", s, err)
	}
	if v.minor, err = strconv.Atoi(parts[1]); err != nil {
		return version{}, fmt.Errorf("version %q: bad minor: %w", s, err)
	}
	if v.patch, err = strconv.Atoi(parts[2]); err != nil {
		return version{}, fmt.Errorf("version %q: bad patch: %w", s, err)
	}
	return v, nil
}

// CheckCompatibility compares a client version against a server version
// and returns nil on an exact match, or a Warning describing the skew.
func CheckCompatibility(clientVersion, serverVersion string) *Warning {
	if clientVersion == "" {
		return &Warning{
			Level:   "warning",
			Message: "client did not report a version; compatibility cannot be verified",
		}
	}

	cv, err := parseVersion(clientVersion)
	if err != nil {
		return &Warning{
			Level:   "warning",
			Message: fmt.Sprintf("unparseable client version %q", clientVersion),
		}
	}
	sv, err := parseVersion(serverVersion)
	if err != nil {
		return &Warning{
			Level:   "warning",
			Message: fmt.Sprintf("unparseable server version %q", serverVersion),
		}
	}

	switch {
	case cv == sv:
		return nil

	case cv.major != sv.major:
		if cv.major < sv.major {
			return &Warning{
				Level:          "error",
				Message:        fmt.Sprintf("client v%s is a major version behind server v%s", clientVersion, serverVersion),
				UpgradeCommand: fmt.Sprintf("upgrade the client to v%s", serverVersion),
			}
		}
		return &Warning{
			Level:          "error",
			Message:        fmt.Sprintf("server v%s is a major version behind client v%s", serverVersion, clientVersion),
			UpgradeCommand: fmt.Sprintf("upgrade the server to v%s", clientVersion),
		}

	case cv.minor != sv.minor:
		if cv.minor < sv.minor {
			return &Warning{
				Level: "warning",
				Message: fmt.Sprintf("client v%s may be missing v%d.%d features; consider upgrading",
					clientVersion, sv.major, sv.minor),
			}
		}
		return &Warning{
			Level:   "warning",
			Message: fmt.Sprintf("client v%s is newer than server v%s; some features may be unavailable", clientVersion, serverVersion),
		}

	default:
		return &Warning{
			Level:   "warning",
			Message: fmt.Sprintf("client v%s and server v%s differ at patch level", clientVersion, serverVersion),
		}
	}
}
