// Package ports defines the interfaces between the permission system's
// domain logic and its infrastructure: grant persistence, interactive
// prompting, audit logging, and the pluggable permission strategy.
// Implementations live under infrastructure/ and domain/policy.
package ports
