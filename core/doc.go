// Package core contains the account binding domain: the QR login state
// machine, the binding service, session refresh scheduling and the contracts
// adapters implement. Core must not depend on platform, transport or storage
// adapters.
package core
