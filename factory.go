package backend

import (
	"fmt"
	"os"
	"time"
)

// Backend identifier strings accepted by Open (spec.md §6).
const (
	CommandBasedTTY = "CommandBasedTTY"
	CommandBasedTCP = "CommandBasedTCP"
)

const defaultTimeout = 2 * time.Second

// Config describes the construction parameters of a Backend, mirroring the
// teacher's Config/Options split. Open does not build or return a Config: it
// resolves the same values from params and passes them straight to the
// Backend. Options is what a caller may tune directly.
type Config struct {
	Kind      string
	Primary   string
	Port      string // required when Kind == CommandBasedTCP
	MapPath   string
	Timeout   time.Duration
	Catalogue *Catalogue // set once MapPath has been loaded
}

// Options tunes a Backend beyond what the map file and factory params
// express. All fields are optional; zero values take the package defaults.
type Options struct {
	Timeout time.Duration
}

var registeredBackendTypes = map[string]bool{
	CommandBasedTTY: true,
	CommandBasedTCP: true,
}

// RegisterBackendType makes kind pass Open's registration check. The two
// built-in kinds are pre-registered (spec.md §9 design note: registration is
// explicit, not an import-time side effect). Open constructs only the two
// built-in kinds; for any other registered kind it returns a LogicError.
func RegisterBackendType(kind string) {
	registeredBackendTypes[kind] = true
}

// Open resolves a Config from kind/primary/params, loads the map file, and
// returns a Backend ready to have Open (the method) called on it. kind must
// be a registered backend type; params must contain "map", and
// CommandBasedTCP additionally requires "port" (spec.md §6).
func Open(kind, primary string, params map[string]string, opts Options) (*Backend, error) {
	if !registeredBackendTypes[kind] {
		return nil, newLogicError(fmt.Sprintf("unregistered backend type %q", kind), nil)
	}

	mapPath, ok := params["map"]
	if !ok || mapPath == "" {
		return nil, newLogicError("missing required parameter \"map\"", nil)
	}
	raw, err := os.ReadFile(mapPath)
	if err != nil {
		return nil, newLogicError("reading map file "+mapPath, err)
	}
	cat, err := loadCatalogue(raw)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	switch kind {
	case CommandBasedTTY:
		return newBackend(TransportTTY, primary, "", cat, timeout), nil
	case CommandBasedTCP:
		port, ok := params["port"]
		if !ok || port == "" {
			return nil, newLogicError("CommandBasedTCP requires a named \"port\" parameter", nil)
		}
		return newBackend(TransportTCP, primary, port, cat, timeout), nil
	default:
		return nil, newLogicError(fmt.Sprintf("backend type %q is registered but not implemented by this package", kind), nil)
	}
}
