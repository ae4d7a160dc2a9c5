// Package capability declares the optional-component manifest referenced
// throughout spec.md: every capability the pipeline might consult (an
// LLM safety head, an ANN index, a Postgres mirror, web search) is an
// interface checked for nil at the call site, never an import-time
// hard dependency. Manifest is populated once at startup from config.
package capability

// Manifest records which optional capabilities are wired in for this
// process. Pipeline stages and the gate consult this to decide whether
// to call out to a capability or degrade gracefully.
type Manifest struct {
	ChatCompleter    bool
	WebSearch        bool
	LLMSafetyHead    bool
	Embedder         bool
	ExternalANN      bool
	PostgresMirror   bool
}

// String renders the manifest as a short log-friendly summary.
func (m Manifest) String() string {
	flag := func(name string, on bool) string {
		if on {
			return name + "=on"
		}
		return name + "=off"
	}
	return flag("chat", m.ChatCompleter) + " " +
		flag("web_search", m.WebSearch) + " " +
		flag("safety_head", m.LLMSafetyHead) + " " +
		flag("embedder", m.Embedder) + " " +
		flag("ann", m.ExternalANN) + " " +
		flag("pg_mirror", m.PostgresMirror)
}
