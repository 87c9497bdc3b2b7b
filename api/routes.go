package api

// Route constants for the API endpoints

const (
	// Health endpoints
	PingEndpoint = "/ping" // Health check endpoint

	// Client-facing transfer endpoints
	NameEnquiryEndpoint   = "/nec" // POST: Resolve destination account name
	FundsTransferEndpoint = "/ft"  // POST: Initiate a funds transfer
	StatusQueryEndpoint   = "/tsq" // POST: Query a transfer by reference

	// Transaction lookup endpoint
	ReferenceURLParam   = "reference"                                 // URL parameter for the client reference
	TransactionEndpoint = "/transactions/{" + ReferenceURLParam + "}" // GET: Transaction status and audit trail

	// Gateway-facing endpoint
	GipCallbackEndpoint = "/callback" // POST: Inbound GIP callback, queued and acknowledged

	// Operator endpoints
	AdminAlertsEndpoint = "/admin/alerts" // GET: Critical audit entries needing manual intervention
)

// LogExcludedPrefixes defines URL prefixes to exclude from request logging
var LogExcludedPrefixes = []string{
	PingEndpoint,
}
