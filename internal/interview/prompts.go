package interview

import "fmt"

// SeedPrompt is the system message every fresh conversation starts with.
const SeedPrompt = `You are Rafiki, a friendly career counselor bot. You guide users through a conversation about their career interests and aspirations. You ask one question at a time and wait for responses. You maintain a warm, encouraging tone and provide specific examples to help users understand what you're asking.`

// TerminalInvite is appended when the interview reaches the final stage.
const TerminalInvite = "Thank you for sharing all of that with me. Would you like to hear my career recommendations based on our conversation?"

var stageInstructions = map[Stage]string{
	StageInitial:         "Warmly welcome the user and introduce yourself.",
	StageInterests:       "Focus on understanding their interests and passions. Ask follow-up questions if their response isn't detailed enough.",
	StageSkills:          "Explore their skills and talents. Reference their previously mentioned interests when relevant.",
	StageChallenges:      "Sensitively discuss their challenges and areas for growth. Be encouraging and supportive.",
	StageAspirations:     "Help them explore their future goals and dreams. Connect their aspirations to their interests and skills.",
	StageRecommendations: "Provide 2-3 specific career recommendations based on all previous responses. Include why each career might be a good fit and suggest one specific next step for each career path.",
}

// SystemPrompt returns the generation instruction for a stage.
func SystemPrompt(stage Stage) string {
	base := fmt.Sprintf("You are Rafiki, a friendly career counselor bot. You are currently in the %s stage of the conversation.", stage)
	instr, ok := stageInstructions[stage]
	if !ok {
		return base
	}
	return base + " " + instr
}

// handoffs is keyed by the stage being entered.
var handoffs = map[Stage]string{
	StageInterests:       "Let's start by talking about the things you like the most. What's something you really enjoy or always have fun doing?",
	StageSkills:          "Now, I'd love to know more about what you're really good at. What skills or talents do you have that others notice?",
	StageChallenges:      "Thank you for sharing your skills! Could you tell me about any challenges you face or areas where you'd like to improve?",
	StageAspirations:     "I appreciate your honesty about challenges. Let's talk about your dreams - what kind of impact would you like to make in the world?",
	StageRecommendations: TerminalInvite,
}

// Handoff returns the fixed text appended to a reply when the interview moves
// into the given stage.
func Handoff(to Stage) string {
	return handoffs[to]
}
