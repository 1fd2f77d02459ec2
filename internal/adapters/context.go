package adapters

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// MaxContextFileListTokens bounds how many cl100k tokens the initial-
// prompt repo file listing may consume, so a large project doesn't blow
// out the instruction preamble. Grounded on the teacher's tiktoken-go
// usage for router model selection (here repurposed for prompt sizing
// instead of routing).
const MaxContextFileListTokens = 2000

// BuildRepoFileContext renders files into a fenced listing truncated to a
// cl100k token budget, for adapters to prepend to the instruction on an
// initial prompt. If encoding initialization fails (offline environments
// without the bundled BPE ranks), it falls back to a fixed file-count cap.
func BuildRepoFileContext(files []string) string {
	if len(files) == 0 {
		return ""
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return buildRepoFileContextFallback(files, 200)
	}

	var b strings.Builder
	b.WriteString("Project files:\n")
	used := len(enc.Encode(b.String(), nil, nil))
	included := 0
	for _, f := range files {
		line := fmt.Sprintf("- %s\n", f)
		lineTokens := len(enc.Encode(line, nil, nil))
		if used+lineTokens > MaxContextFileListTokens {
			break
		}
		b.WriteString(line)
		used += lineTokens
		included++
	}
	if included < len(files) {
		b.WriteString(fmt.Sprintf("… +%d more files\n", len(files)-included))
	}
	return b.String()
}

func buildRepoFileContextFallback(files []string, maxFiles int) string {
	var b strings.Builder
	b.WriteString("Project files:\n")
	n := len(files)
	if n > maxFiles {
		n = maxFiles
	}
	for _, f := range files[:n] {
		b.WriteString(fmt.Sprintf("- %s\n", f))
	}
	if n < len(files) {
		b.WriteString(fmt.Sprintf("… +%d more files\n", len(files)-n))
	}
	return b.String()
}
