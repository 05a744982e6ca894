// Package support holds small cross-cutting helpers shared by every engine
// component: descriptors, observation hooks, retry policy, and list-limit
// clamping. None of it is ingestion-specific; it exists so components don't
// each reinvent these primitives.
package support

// Layer names the architectural tier a component sits in.
type Layer string

const (
	LayerIngress  Layer = "ingress"
	LayerAdapter  Layer = "adapter"
	LayerEngine   Layer = "engine"
	LayerData     Layer = "data"
	LayerQuality  Layer = "quality"
)

// Descriptor identifies a component for logging, metrics, and dashboards.
type Descriptor struct {
	Name         string
	Domain       string
	Layer        Layer
	Capabilities []string
}

// WithCapabilities returns a copy of d with the given capabilities attached.
func (d Descriptor) WithCapabilities(caps ...string) Descriptor {
	d.Capabilities = append(append([]string{}, d.Capabilities...), caps...)
	return d
}
