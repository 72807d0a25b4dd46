package metrics

// Pre-defined metrics for the prover host. All of them live in
// DefaultRegistry.

var (
	// ---- Proof driver ----

	ProofsRequested = DefaultRegistry.Counter("prover.requested", "Proof requests accepted by the driver.")
	ProofsSucceeded = DefaultRegistry.Counter("prover.succeeded", "Proof requests that produced a bundle.")
	ProofsFailed    = DefaultRegistry.Counter("prover.failed", "Proof requests that failed closed.")
	ProofsRetried   = DefaultRegistry.Counter("prover.retried", "Backend submissions repeated under an explicit retry policy.")
	// ProvingTime records end-to-end backend latency in milliseconds.
	ProvingTime = DefaultRegistry.Histogram("prover.proving_ms", "Backend proving latency in milliseconds.")
	// ProofsInFlight tracks requests currently inside a backend.
	ProofsInFlight = DefaultRegistry.Gauge("prover.in_flight", "Requests currently being proven.")

	// ---- Guest ----

	AnchorVerifications = DefaultRegistry.Counter("guest.anchor_verifications", "Chain anchors verified by guest runs.")
	PositionsVerified   = DefaultRegistry.Counter("guest.positions_verified", "Positions read against anchored state.")

	// ---- Witness collection ----

	WitnessFetchTime   = DefaultRegistry.Histogram("witness.fetch_ms", "Per-chain witness collection latency in milliseconds.")
	WitnessFetchErrors = DefaultRegistry.Counter("witness.fetch_errors", "Witness collection failures.")
)
