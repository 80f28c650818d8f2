package models

import "sort"

type GameMode struct {
	Name string   `json:"name"`
	Maps []string `json:"maps"`
}

// RankedMode a ranked ruleset with the team sizes (formats) it supports.
type RankedMode struct {
	Name      string     `json:"name"`
	Enabled   bool       `json:"enabled"`
	TeamSizes []int      `json:"teamSizes"`
	GameModes []GameMode `json:"gameModes"`
}

func (m RankedMode) sortedSizes() []int {
	sizes := append([]int(nil), m.TeamSizes...)
	sort.Ints(sizes)
	return sizes
}

// MinPlayers pool size needed for the smallest format.
func (m RankedMode) MinPlayers() int {
	sizes := m.sortedSizes()
	if len(sizes) == 0 {
		return 0
	}
	return sizes[0] * 2
}

// MaxPlayers pool size needed for the largest format.
func (m RankedMode) MaxPlayers() int {
	sizes := m.sortedSizes()
	if len(sizes) == 0 {
		return 0
	}
	return sizes[len(sizes)-1] * 2
}

func (m RankedMode) MaxTeamSize() int {
	return m.MaxPlayers() / 2
}

// FormatFor largest team size satisfiable by a pool of n players.
func (m RankedMode) FormatFor(n int) (int, bool) {
	sizes := m.sortedSizes()
	for i := len(sizes) - 1; i >= 0; i-- {
		if sizes[i]*2 <= n {
			return sizes[i], true
		}
	}
	return 0, false
}

// NextFormat smallest team size that a pool of n players cannot yet fill.
func (m RankedMode) NextFormat(n int) (int, bool) {
	for _, size := range m.sortedSizes() {
		if size*2 > n {
			return size, true
		}
	}
	return 0, false
}

func (m RankedMode) GameMode(name string) (GameMode, bool) {
	for _, gm := range m.GameModes {
		if gm.Name == name {
			return gm, true
		}
	}
	return GameMode{}, false
}
