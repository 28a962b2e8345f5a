// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Replica routing configuration: which host:port each (group, replica)
// index binds or dials.

package control

import (
	"fmt"
	"net"
	"strings"

	"github.com/momentics/hioload-transport/api"
)

// ReplicaAddress is an unresolved endpoint. Port may be numeric or a
// service name.
type ReplicaAddress struct {
	Host string
	Port string
}

func (r ReplicaAddress) String() string {
	return net.JoinHostPort(r.Host, r.Port)
}

// Configuration lists the replicas of every group. It is read-only once
// handed to the transport.
type Configuration struct {
	Groups [][]ReplicaAddress
}

// NewConfiguration builds a configuration from per-group replica lists.
func NewConfiguration(groups ...[]ReplicaAddress) *Configuration {
	return &Configuration{Groups: groups}
}

// NumGroups returns the number of replica groups.
func (c *Configuration) NumGroups() int {
	return len(c.Groups)
}

// N returns the number of replicas in group g, or 0 for an unknown group.
func (c *Configuration) N(g int) int {
	if g < 0 || g >= len(c.Groups) {
		return 0
	}
	return len(c.Groups[g])
}

// Replica returns the endpoint of replica i in group g.
func (c *Configuration) Replica(g, i int) (ReplicaAddress, error) {
	if g < 0 || g >= len(c.Groups) {
		return ReplicaAddress{}, api.NewError(api.ErrCodeInvalidArgument, "group index out of range").
			WithContext("group", g).
			Wrap(api.ErrInvalidArgument)
	}
	if i < 0 || i >= len(c.Groups[g]) {
		return ReplicaAddress{}, api.NewError(api.ErrCodeInvalidArgument, "replica index out of range").
			WithContext("group", g).
			WithContext("replica", i).
			Wrap(api.ErrInvalidArgument)
	}
	return c.Groups[g][i], nil
}

// ParseReplicas parses "host:port" strings into one replica group.
func ParseReplicas(specs ...string) ([]ReplicaAddress, error) {
	out := make([]ReplicaAddress, 0, len(specs))
	for _, s := range specs {
		host, port, err := net.SplitHostPort(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("replica %q: %w", s, err)
		}
		if port == "" {
			return nil, fmt.Errorf("replica %q: empty port: %w", s, api.ErrInvalidArgument)
		}
		out = append(out, ReplicaAddress{Host: host, Port: port})
	}
	return out, nil
}
