package daemon

import (
	"fmt"
	"strings"
)

// Role selects which components a process runs.
type Role string

const (
	RoleAll    Role = "all"
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
)

// ParseRole accepts the --role flag value. Empty means RoleAll.
func ParseRole(value string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(value))); r {
	case "":
		return RoleAll, nil
	case RoleAll, RoleAPI, RoleWorker:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q (want all, api or worker)", value)
	}
}

func (r Role) servesAPI() bool   { return r == RoleAll || r == RoleAPI }
func (r Role) runsWorkers() bool { return r == RoleAll || r == RoleWorker }
