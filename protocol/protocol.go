// Package protocol defines the JSON request and response bodies of the
// compile and run API.
package protocol

// Source formats accepted by the compile endpoint.
const (
	FormatC   = "c"
	FormatCPP = "cpp"

	// SmartContract as the smart field appends the contract main loop.
	SmartContract = "smart_contract"
)

// NoSuchProcess is the error reported when an exchange names an unknown session.
const NoSuchProcess = "No such process"

type CompileRequest struct {
	Code   string `json:"code"`
	Format string `json:"format"`
	Smart  string `json:"smart,omitempty"`
}

// CompileResponse carries the bytecode and the result of every stage. A nil
// stage did not run; a nil Bytecode means no bytecode was produced.
type CompileResponse struct {
	Bytecode              *string            `json:"bytecode"`
	LlvmExecution         *ExecutionResponse `json:"llvmExecution"`
	TranslatorExecution   *ExecutionResponse `json:"translatorExecution"`
	DisassemblerExecution *ExecutionResponse `json:"disassemblerExecution"`
}

type RunRequest struct {
	Bytecode string `json:"bytecode"`
}

// ExecutionResponse is the outcome of one process run or one session
// exchange. Exactly one of Output and Error is set.
type ExecutionResponse struct {
	Output    *string `json:"output"`
	Error     *string `json:"error"`
	ExitCode  *int    `json:"exitCode,omitempty"`
	Truncated bool    `json:"truncated,omitempty"`
}

type MaintainResponse struct {
	MaintainID        string             `json:"maintainId"`
	ExecutionResponse *ExecutionResponse `json:"executionResponse"`
}

type ExchangeRequest struct {
	ID   string `json:"id"`
	Line string `json:"line"`
}

// Output builds a successful response.
func Output(out string) *ExecutionResponse {
	return &ExecutionResponse{Output: &out}
}

// Failure builds a response that carries only an error message.
func Failure(msg string) *ExecutionResponse {
	return &ExecutionResponse{Error: &msg}
}

// Exited builds the response of a process that ran to completion.
func Exited(out string, code int, truncated bool) *ExecutionResponse {
	return &ExecutionResponse{Output: &out, ExitCode: &code, Truncated: truncated}
}
