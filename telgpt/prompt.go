package telgpt

import (
	"fmt"
	"strings"
)

// Persona selects the system text sent along with a question
type Persona int

const (
	PersonaDefault Persona = iota
	PersonaVRChat
)

const (
	defaultPersonaText = "You are a helpful assistant."

	vrchatPersonaText = `You are an AI assistant specialized in VRChat development, focusing on UdonSharp programming, shader creation, and particle effects. Your role is to provide precise and practical answers tailored to the following domains:

1. **UdonSharp**:
   - Writing, debugging, and optimizing UdonSharp scripts.
   - Implementing networking, interactions, and event-driven systems.
   - Best practices for improving performance in VRChat worlds.

2. **Shaders**:
   - Developing shaders using Unity's ShaderLab and HLSL.
   - Creating and optimizing PBR shaders and custom visual effects.
   - Troubleshooting shader performance and visual fidelity.

3. **Particles**:
   - Setting up and customizing Unity's Particle System.
   - Using VFX Graph for advanced particle effects.
   - Optimizing particle systems for VRChat environments.

When answering, include detailed code examples, Unity Editor walkthroughs, and actionable advice. Provide best practices and refer to official documentation or reputable resources as needed. Aim to assist users in solving real-world development challenges effectively.`
)

func (p Persona) String() string {
	switch p {
	case PersonaVRChat:
		return "vrchat"
	default:
		return "default"
	}
}

// SystemText returns the persona's system prompt
func (p Persona) SystemText() string {
	switch p {
	case PersonaVRChat:
		return vrchatPersonaText
	default:
		return defaultPersonaText
	}
}

// questionHeader is the prefix for every question/image reply, and the
// first line the image revision flow reads the original prompt back from.
func questionHeader(prompt string) string {
	return "Q:" + prompt + "\n"
}

// promptFromQuestionHeader returns the first line of content with the
// "Q:" marker removed.
func promptFromQuestionHeader(content string) string {
	firstLine, _, _ := strings.Cut(content, "\n")
	return strings.ReplaceAll(firstLine, "Q:", "")
}

// buildRevisionPrompt combines the prompts an image was generated from
// with a new request. oldPrompts[0] is always the first request. With
// three or more prior prompts, oldPrompts[1] is skipped and the rest are
// listed newest-last, which matches the order thread history is gathered
// in (thread name, then messages newest first).
func buildRevisionPrompt(oldPrompts []string, newPrompt string) string {
	if len(oldPrompts) == 0 {
		return newPrompt
	}
	firstPrompt := oldPrompts[0]
	if len(oldPrompts) <= 2 {
		return fmt.Sprintf(
			"Initially, the image was requested with the theme \"%s\". "+
				"Now, we would like to update and refine this concept with a new request: \"%s\". "+
				"Please regenerate the image incorporating these insights.",
			firstPrompt,
			newPrompt,
		)
	}

	revisions := make([]string, 0, len(oldPrompts)-2)
	for i := len(oldPrompts) - 1; i >= 2; i-- {
		revisions = append(revisions, `"`+oldPrompts[i]+`"`)
	}
	return fmt.Sprintf(
		"First request: \"%s\". revised requests ordered by time: %s. Latest revise request: \"%s\".",
		firstPrompt,
		strings.Join(revisions, ","),
		newPrompt,
	)
}
