package valueobjects

// Position is the canvas location of a node
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Equals checks if two positions are equal
func (p Position) Equals(other Position) bool {
	return p.X == other.X && p.Y == other.Y
}
