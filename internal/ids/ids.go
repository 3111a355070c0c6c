// Package ids holds the small identifier types shared across the cluster
// state machine, the content index, and the transport layer. Keeping them
// here (rather than on clusterstate or contentindex) avoids those packages
// needing to import each other just to talk about "which machine" or
// "which hash".
package ids

import "fmt"

// MachineID is a small dense non-zero integer assigned by the cluster
// state machine. Zero is never a valid id; it is used as the "no id"
// sentinel in APIs that return a MachineID alongside an ok bool.
type MachineID uint32

// Hash identifies a piece of content, already hex- or base32-encoded by
// the caller. The tracker treats it as an opaque comparable key.
type Hash string

// Location is a canonicalized network endpoint of the form
// "grpc://host:port/". Two distinct locations may never simultaneously
// hold the same MachineID.
type Location string

// Canonicalize normalizes host:port into the "grpc://host:port/" form
// required by the wire contract. It is idempotent.
func Canonicalize(hostPort string) Location {
	if hostPort == "" {
		return ""
	}
	const prefix = "grpc://"
	s := hostPort
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		s = prefix + s
	}
	if s[len(s)-1] != '/' {
		s += "/"
	}
	return Location(s)
}

func (m MachineID) String() string {
	return fmt.Sprintf("m%d", uint32(m))
}
