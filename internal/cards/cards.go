// Package cards generates the start/target article pairings shown as feed
// entries. Pairs come from a curated rotating list; cards are immutable
// once created and carry no persistence.
package cards

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultMaxSteps is the navigation budget fixed for this deployment.
const DefaultMaxSteps = 15

// Card is one start/target pairing.
type Card struct {
	CardID      string `json:"card_id"`
	StartTitle  string `json:"start_title"`
	TargetTitle string `json:"target_title"`
	Language    string `json:"language"`
	MaxSteps    int    `json:"max_steps"`
}

var curatedPairs = [][2]string{
	{"Donald Trump", "Brazil"},
	{"Eiffel Tower", "Sushi"},
	{"Albert Einstein", "Football"},
	{"Cleopatra", "Moon landing"},
	{"Leonardo da Vinci", "Hip hop music"},
	{"Great Wall of China", "Bitcoin"},
	{"William Shakespeare", "Olympic Games"},
	{"Pyramids of Giza", "Artificial intelligence"},
	{"Marie Curie", "Netflix"},
	{"Nikola Tesla", "K-pop"},
	{"Machu Picchu", "Taylor Swift"},
	{"Napoleon", "Video game"},
	{"Amazon rainforest", "Pizza"},
	{"Titanic", "Mars"},
	{"Mona Lisa", "World Cup"},
	{"Vikings", "Internet"},
	{"Dinosaur", "Smartphone"},
	{"Mozart", "Electric car"},
	{"Ancient Rome", "Social media"},
	{"Frida Kahlo", "Quantum computing"},
	{"Pablo Picasso", "Space Station"},
	{"Genghis Khan", "Anime"},
	{"Bermuda Triangle", "Virtual reality"},
	{"Stonehenge", "Spotify"},
	{"Galileo Galilei", "Cryptocurrency"},
	{"Samurai", "Hollywood"},
	{"Atlantis", "Machine learning"},
	{"Socrates", "TikTok"},
	{"Tutankhamun", "Climate change"},
	{"Marco Polo", "Robotics"},
}

// Generator hands out cards by rotating through the curated pair list.
type Generator struct {
	mu       sync.Mutex
	index    int
	language string
	maxSteps int
}

func NewGenerator(language string, maxSteps int) *Generator {
	if language == "" {
		language = "en"
	}
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Generator{language: language, maxSteps: maxSteps}
}

func (g *Generator) Generate() Card {
	g.mu.Lock()
	pair := curatedPairs[g.index%len(curatedPairs)]
	g.index++
	g.mu.Unlock()

	return Card{
		CardID:      uuid.NewString(),
		StartTitle:  pair[0],
		TargetTitle: pair[1],
		Language:    g.language,
		MaxSteps:    g.maxSteps,
	}
}

func (g *Generator) GenerateN(count int) []Card {
	out := make([]Card, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, g.Generate())
	}
	return out
}
