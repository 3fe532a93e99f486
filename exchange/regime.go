package exchange

// Regime is the hydraulic regime an opening operated under for a given evaluation
type Regime int

const (
	None Regime = iota // no exchange
	FreeWeir
	SubmergedWeir
	Orifice
)

func (r Regime) String() string {
	switch r {
	case FreeWeir:
		return "free-weir"
	case SubmergedWeir:
		return "submerged-weir"
	case Orifice:
		return "orifice"
	default:
		return "none"
	}
}
