package models

// PlayerKind distinguishes real players from synthetic fill used by test matches.
type PlayerKind string

const (
	PlayerReal      PlayerKind = "real"
	PlayerSynthetic PlayerKind = "synthetic"
)

// PlayerRef tagged reference to a match participant
type PlayerRef struct {
	Kind PlayerKind `json:"kind"`
	ID   string     `json:"id"`
}

func Real(id string) PlayerRef {
	return PlayerRef{Kind: PlayerReal, ID: id}
}

func Synthetic(id string) PlayerRef {
	return PlayerRef{Kind: PlayerSynthetic, ID: id}
}

func (p PlayerRef) IsReal() bool {
	return p.Kind == PlayerReal
}

type Team int

const (
	TeamUnassigned Team = 0
	Team1          Team = 1
	Team2          Team = 2
)

// Other returns the opposing team. Unassigned stays unassigned.
func (t Team) Other() Team {
	switch t {
	case Team1:
		return Team2
	case Team2:
		return Team1
	default:
		return TeamUnassigned
	}
}

func (t Team) Valid() bool {
	return t == Team1 || t == Team2
}

// MatchPlayer a participant as stored on the match
type MatchPlayer struct {
	Ref          PlayerRef `json:"ref"`
	DisplayName  string    `json:"displayName"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	RankPoints   int       `json:"rankPoints"`
	RankDivision string    `json:"rankDivision"`
	Platform     Platform  `json:"platform,omitempty"`
	Team         Team      `json:"team"`
	IsCaptain    bool      `json:"isCaptain"`
}
