package tools

// Kind is the closed set of tools the agent can invoke.
type Kind string

const (
	KindReadFile          Kind = "read_file"
	KindWriteToFile       Kind = "write_to_file"
	KindListFiles         Kind = "list_files"
	KindSearchFiles       Kind = "search_files"
	KindExecuteCommand    Kind = "execute_command"
	KindAttemptCompletion Kind = "attempt_completion"
)

// AllKinds lists every tool kind in registration order.
func AllKinds() []Kind {
	return []Kind{
		KindReadFile,
		KindWriteToFile,
		KindListFiles,
		KindSearchFiles,
		KindExecuteCommand,
		KindAttemptCompletion,
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

// Params is the validated, typed parameter set of one invocation.
type Params interface {
	Kind() Kind
}

// ReadFileParams are the parameters of read_file.
type ReadFileParams struct {
	Path      string `json:"path" validate:"required"`
	StartLine int    `json:"start_line" validate:"omitempty,min=1"`
	EndLine   int    `json:"end_line" validate:"omitempty,min=1,gtefield=StartLine"`
}

func (ReadFileParams) Kind() Kind { return KindReadFile }

// WriteToFileParams are the parameters of write_to_file.
type WriteToFileParams struct {
	Path    string `json:"path" validate:"required"`
	Content string `json:"content"`
}

func (WriteToFileParams) Kind() Kind { return KindWriteToFile }

// ListFilesParams are the parameters of list_files.
type ListFilesParams struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
}

func (ListFilesParams) Kind() Kind { return KindListFiles }

// SearchFilesParams are the parameters of search_files.
type SearchFilesParams struct {
	Path        string `json:"path"`
	Regex       string `json:"regex" validate:"required"`
	FilePattern string `json:"file_pattern"`
}

func (SearchFilesParams) Kind() Kind { return KindSearchFiles }

// ExecuteCommandParams are the parameters of execute_command.
type ExecuteCommandParams struct {
	Command string `json:"command" validate:"required"`
	Timeout int    `json:"timeout" validate:"omitempty,min=1,max=300"`
}

func (ExecuteCommandParams) Kind() Kind { return KindExecuteCommand }

// AttemptCompletionParams are the parameters of attempt_completion.
type AttemptCompletionParams struct {
	Result  string `json:"result" validate:"required"`
	Command string `json:"command"`
}

func (AttemptCompletionParams) Kind() Kind { return KindAttemptCompletion }

// newParams returns a pointer to a zero parameter struct for k.
func newParams(k Kind) (any, bool) {
	switch k {
	case KindReadFile:
		return &ReadFileParams{}, true
	case KindWriteToFile:
		return &WriteToFileParams{}, true
	case KindListFiles:
		return &ListFilesParams{}, true
	case KindSearchFiles:
		return &SearchFilesParams{}, true
	case KindExecuteCommand:
		return &ExecuteCommandParams{}, true
	case KindAttemptCompletion:
		return &AttemptCompletionParams{}, true
	}
	return nil, false
}
