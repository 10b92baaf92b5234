// Package domain defines the core types of the camscout discovery engine.
//
// Device is the central entity: a camera or speaker found on the local
// network, keyed by a tagged identity (IP until a MAC is learned, MAC
// afterwards). NetworkRange and CandidateHost describe what the topology
// planner decides is worth scanning. ProtocolProbeResult records the
// (protocol, port) negotiation outcome for one IP. Registry is the
// deduplicating device set that both discovery streams feed.
//
// Everything in this package is plain data plus pure helpers; network
// I/O lives in the probe, digest, negotiate, identify and listen
// packages.
package domain
