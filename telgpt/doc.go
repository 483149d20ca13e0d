// Package telgpt implements TelGPT, a Discord bot that relays questions,
// conversations and image requests to OpenAI, Gemini, Claude and Stability
// AI, and files GitHub issues on behalf of users.
//
// Key components of the package include:
//
//   - TelGPT: wires the gateway session, providers and status server together.
//   - Router: turns gateway events into provider calls and replies.
//   - Provider: the common interface over every AI backend.
//   - ConversationState: reads busy state and thread context from channel history.
//   - ResponseFormatter: renders provider output back to Discord.
//   - StatusNotifier: posts lifecycle notices to a status channel.
//
// The bot supports these slash commands, each registered only when its
// provider has a token configured:
//
//   - /ai-question, /ai-question-dev-vrc: ask OpenAI.
//   - /ai-question-gemini, /ai-question-dev-vrc-gemini: ask Gemini.
//   - /ai-question-claude, /ai-question-dev-vrc-claude: ask Claude.
//   - /ai-image: generate an image with OpenAI.
//   - /ai-image-stable: generate an image with Stable Diffusion.
//   - /ai-conversation: start a conversation thread.
//   - /ai-create-issue: file a GitHub issue.
//
// Outside of slash commands, the bot continues conversations in threads it
// owns, revises generated images when a reply mentions it, and creates
// variations of attached images on request.
package telgpt
