// Package uplink is the ground to satellite command channel.
//
// Wire: client connects, writes one line `<secret>|<command>`, server
// replies with free text and closes. One connection per command, server
// handles one connection at a time.
//
// Security: the secret travels in cleartext and the command is passed to
// `sh -c` with full shell interpretation. Anyone who can read the traffic
// can run arbitrary commands on the satellite. Use only on trusted links.
package uplink
