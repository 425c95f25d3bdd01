package tally

// These variables are linked in at build time via -ldflags.
var (
	BuildDate string
	Commit    string
	Version   string
)

// ProtocolVersion identifies the wire format this package produces, so a
// verifier can reject a result computed under an incompatible scheme.
const ProtocolVersion = "1.0"

// DefaultThreshold and DefaultTrustees are the (K, N) values used when an
// election does not specify its own.
const (
	DefaultThreshold = 3
	DefaultTrustees  = 5
)
