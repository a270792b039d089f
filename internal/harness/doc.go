// Package harness runs conformance scenarios against a token-session
// gateway.
//
// A scenario programs the mock dependency, sends gateway requests through
// the driver, checks each response, and asserts on the calls the mock
// received. The same scenario runs against the in-process reference gateway
// or against a supervised artifact.
//
// # Scenario Format
//
//	name: session_flow
//	description: "LOGOUT ends the session"
//	tokens: [user]
//	steps:
//	  - stub: { path: /auth, status: 200 }
//	  - send:
//	      action: LOGIN
//	      token: user
//	      expect: { status: 200, result: OK }
//	  - reset_requests: true
//	  - send:
//	      action: LOGOUT
//	      token: user
//	      expect: { status: 200, result: OK }
//	assertions:
//	  - type: upstream_count
//	    path: /auth
//	    count: 0
//
// A send step names its token by alias (token), verbatim (token_literal) or
// by malformed shape (malformed). key is valid, missing or invalid; omit
// sends no form fields; concurrent sends N identical requests at once and
// supports only expect.ok_count.
//
// # Assertion Types
//
//   - upstream_count: the mock journal holds exactly count calls to path
//   - upstream_received: some call to path carried token=<alias value>
//   - result_sequence: the result field of every request, in order
//   - status_count: exactly count responses carried status
//
// Mock assertions read the journal as it stands after the last step, so a
// reset_requests step scopes them.
//
// # Deterministic Traces
//
// Every alias is bound to a fresh token per run, and traces carry the alias
// instead of the value, so golden files are stable across runs. Trace
// sequence numbers come from testutil.DeterministicClock, reset per run.
// Upstream calls are traced after the request that caused them, except for
// concurrent requests.
package harness
