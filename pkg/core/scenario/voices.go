package scenario

import (
	"strings"

	"github.com/vango-go/callsim/pkg/core/voice/tts"
)

// Voice is one entry of the synthesis voice database.
type Voice struct {
	Name           string
	ID             string
	Description    string
	CharacterTypes []string
}

// Voices lists the known synthesis voices. The first entry is the fallback.
var Voices = []Voice{
	{Name: "Default", ID: tts.DefaultVoiceID, Description: "Neutral default voice", CharacterTypes: []string{"fallback"}},
	{Name: "Rachel", ID: "21m00Tcm4TlvDq8ikWAM", Description: "Versatile female voice for elderly, frightened or worried callers",
		CharacterTypes: []string{"Elderly Female", "Elderly Woman", "Female Frightened", "Young Woman", "Agitated Older Woman", "Upset Mother", "Female Worried", "Older Female", "Mother Worried", "Flustered Woman", "Worried Woman", "Frantic Woman", "Breathless Woman"}},
	{Name: "Josh", ID: "TxGEqnHWrfWFTfGW9XjX", Description: "Steady, direct professional male voice",
		CharacterTypes: []string{"Male Professional", "Male", "Adult Male in a Hurry", "Confident Male", "Professional Male", "Security Operator", "Manager"}},
	{Name: "Arnold", ID: "ErXwobaYiN019PkySvjV", Description: "Older male voice for anxious or angry callers",
		CharacterTypes: []string{"Male Older", "Older Male", "Father Worried", "Angry Older Male", "Worried Father", "Anxious Male", "Older Male Professional"}},
	{Name: "Elli", ID: "MF3mGyEYCl7XYWbV9V6O", Description: "Young female voice, calm",
		CharacterTypes: []string{"Female", "Teen Female", "Young Female", "Adult Female", "Female Young", "Teen Girl", "Concerned Mother", "Adult Female Calm"}},
	{Name: "Adam", ID: "pNInz6obpgDQGcFmaJgB", Description: "Young male voice, energetic",
		CharacterTypes: []string{"Young Male Agitated", "Teen Male", "Young Male", "Teen Boy", "Agitated Teen", "Young Man", "Teen Male Agitated", "Energetic Young Male"}},
	{Name: "Domi", ID: "AZnzlk1XvdvUeBnXmlld", Description: "Frightened female voice, whispering or crying",
		CharacterTypes: []string{"Woman Scared", "Teen Woman", "Frightened Adult", "Female Crying", "Frightened Female", "Scared Woman", "Panicked Female", "Whispering Female", "Crying Woman", "Frightened Woman"}},
	{Name: "Antoni", ID: "pqHfZKP75CvOlQylNhV4", Description: "Authoritative older professional male voice",
		CharacterTypes: []string{"Professional Older Male", "Adult Male", "EMT Male", "Emergency Professional", "Authoritative Male", "Experienced Male"}},
	{Name: "Bella", ID: "EXAVITQu4vr4xnSDxMaL", Description: "Calm female voice for neutral scenarios",
		CharacterTypes: []string{"Neutral Female", "Professional Female", "Calm Female", "Adult Female Professional"}},
	{Name: "Charlie", ID: "IKne3meq5aSn9XLyUdCD", Description: "Urgent, panicked male voice",
		CharacterTypes: []string{"Panicked Male", "Urgent Male", "Male Yelling", "Male Panic", "Breathless Male"}},
}

// VoiceByName returns the voice with exactly this name.
func VoiceByName(name string) (Voice, bool) {
	for _, v := range Voices {
		if v.Name == name {
			return v, true
		}
	}
	return Voice{}, false
}

// VoiceByCharacterType returns the first voice listing characterType.
func VoiceByCharacterType(characterType string) (Voice, bool) {
	for _, v := range Voices {
		for _, ct := range v.CharacterTypes {
			if ct == characterType {
				return v, true
			}
		}
	}
	return Voice{}, false
}

// VoiceForAgent derives a voice id from an agent name: the first word of the
// name selects a voice, otherwise the default voice is used.
func VoiceForAgent(agentName string) string {
	fields := strings.Fields(agentName)
	if len(fields) > 0 {
		if v, ok := VoiceByName(fields[0]); ok {
			return v.ID
		}
	}
	return Voices[0].ID
}

func named(name string) Voice {
	if v, ok := VoiceByName(name); ok {
		return v
	}
	return Voices[0]
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// BestVoiceForCharacter picks a voice for a free-form character
// description. An exact character type match wins; otherwise keywords
// choose between the female and male voices.
func BestVoiceForCharacter(description string) Voice {
	if v, ok := VoiceByCharacterType(description); ok {
		return v
	}
	d := strings.ToLower(description)

	switch {
	case containsAny(d, "female", "woman", "girl", "mother"):
		switch {
		case containsAny(d, "scared", "frightened", "crying", "panicked"):
			return named("Domi")
		case containsAny(d, "elderly", "older", "agitated"):
			return named("Rachel")
		case containsAny(d, "teen", "young"):
			return named("Elli")
		}
		return named("Rachel")
	// "female" and "woman" contain "male" and "man", so the female branch
	// must be checked first.
	case containsAny(d, "male", "man", "boy", "father"):
		switch {
		case containsAny(d, "professional", "manager", "operator", "emt"):
			return named("Antoni")
		case containsAny(d, "older", "elderly", "worried", "anxious"):
			return named("Arnold")
		case containsAny(d, "teen", "young", "agitated"):
			return named("Adam")
		case containsAny(d, "panicked", "urgent", "yelling"):
			return named("Charlie")
		}
		return named("Josh")
	}
	return Voices[0]
}
