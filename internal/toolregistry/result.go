package toolregistry

// Result is the outcome of one tool execution. Handlers never raise out of
// the registry: a failing handler returns (Result{}, error), and Execute
// converts that into an error-prefixed string for the model.
type Result struct {
	Output string
}

func NewResult(output string) Result { return Result{Output: output} }
