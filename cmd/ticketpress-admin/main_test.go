package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequeueFlagsRequiresTarget(t *testing.T) {
	_, err := parseRequeueFlags(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "--job-id")
}

func TestParseRequeueFlagsRejectsConflictingTargets(t *testing.T) {
	_, err := parseRequeueFlags([]string{"--job-id", "a1b2", "--all"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "mutually exclusive")
}

func TestParseMigrateFlagsRejectsZeroTimeout(t *testing.T) {
	_, err := parseMigrateFlags([]string{"--timeout", "0s"})
	require.Error(t, err)
}

func TestIsLikelyRemoteHost(t *testing.T) {
	cases := map[string]bool{
		"localhost":            false,
		"127.0.0.1":            false,
		"::1":                  false,
		"10.0.0.5":             false,
		"192.168.1.20":         false,
		"db.example.com":       true,
		"203.0.113.9":          true,
		"build-agent.local":    false,
		"host.docker.internal": false,
		"":                     false,
	}
	for host, want := range cases {
		require.Equal(t, want, isLikelyRemoteHost(host), "host %q", host)
	}
}
