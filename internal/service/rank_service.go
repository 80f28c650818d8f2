package service

// Division a named rank band starting at MinPoints.
type Division struct {
	Name      string
	MinPoints int
}

// Divisions ordered from lowest to highest.
var Divisions = []Division{
	{Name: "Bronze", MinPoints: 0},
	{Name: "Silver", MinPoints: 500},
	{Name: "Gold", MinPoints: 1000},
	{Name: "Platinum", MinPoints: 1500},
	{Name: "Diamond", MinPoints: 2000},
	{Name: "Master", MinPoints: 2500},
	{Name: "Champion", MinPoints: 3000},
}

// DivisionFor maps ranked points to a division label. Negative points count as Bronze.
func DivisionFor(points int) string {
	name := Divisions[0].Name
	for _, d := range Divisions {
		if points < d.MinPoints {
			break
		}
		name = d.Name
	}
	return name
}
