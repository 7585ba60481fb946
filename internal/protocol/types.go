package protocol

// Method is the closed set of operations the bridge process accepts.
// Stringly-typed dispatch is confined to this boundary.
type Method string

const (
	MethodAnalyze Method = "analyze"
	MethodExecute Method = "execute"
	MethodFix     Method = "fix"
)

// Valid reports whether m is a known bridge method.
func (m Method) Valid() bool {
	return m == MethodAnalyze || m == MethodExecute || m == MethodFix
}

// Request is one line sent to the bridge process via stdin.
type Request struct {
	ID     string `json:"id"`
	Method Method `json:"method"`
	Args   []any  `json:"args"`
}

// Response is one line received from the bridge process via stdout.
// Exactly one of Result or Error is meaningful.
type Response struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Ready is the first-class readiness handshake message. The bridge process
// emits it once on stdout when it can accept requests.
type Ready struct {
	Type string `json:"type"` // always "ready"
}

// ReadyType is the type tag of the readiness message.
const ReadyType = "ready"
