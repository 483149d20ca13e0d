package telgpt

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	variationSuccessMessage = "生成された画像を基に再生成しました"
	threadReplyMessage      = "スレッドで返信しました "
	threadCreatedMessage    = "スレッドを生成しました: "
	threadOnlyMessage       = "このコマンドはスレッド内では使用できません。"
	issueCreatedMessage     = "Issueを作成しました: "

	issueAuthorVisibleRunes = 2
	issueAuthorMask         = "***"
)

// variationTriggers start a message asking for a variation of the
// attached image
var variationTriggers = []string{"画像を加工して", "画像を再生成して"}

// route is the kind of work a gateway event was classified as
type route string

const (
	routeIgnore         route = "ignore"
	routeConversation   route = "conversation"
	routeImageRevision  route = "image_revision"
	routeImageVariation route = "image_variation"
	routeCommand        route = "command"
)

// classifyMessage picks the route for an incoming message. ch may be nil
// when the channel couldn't be looked up, in which case thread-only
// routes don't match.
func classifyMessage(m *discordgo.Message, ch *discordgo.Channel, botID string) route {
	if m == nil || authoredBy(m, botID) {
		return routeIgnore
	}
	if messageMentionsOnlyUser(m, botID) {
		ref := m.ReferencedMessage
		if ref != nil && authoredBy(ref, botID) && len(ref.Embeds) > 0 {
			return routeImageRevision
		}
		content := stripMentions(m.Content)
		for _, trigger := range variationTriggers {
			if strings.HasPrefix(content, trigger) {
				return routeImageVariation
			}
		}
	}
	if isThread(ch) && ch.OwnerID == botID {
		return routeConversation
	}
	return routeIgnore
}

// workState is the state of a single unit of work
type workState int

const (
	stateIdle workState = iota
	stateDispatching
	stateResponding
	stateDone
)

func (s workState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateDispatching:
		return "dispatching"
	case stateResponding:
		return "responding"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

var validTransitions = map[workState][]workState{
	stateIdle:        {stateDispatching, stateDone},
	stateDispatching: {stateResponding, stateDone},
	stateResponding:  {stateDone},
}

const (
	outcomeRejected = "rejected"
	outcomeBusy     = "busy"
)

// unitOfWork tracks one gateway event from classification to the final
// Discord write. Every unit of work ends in stateDone.
type unitOfWork struct {
	route   route
	state   workState
	outcome string
	started time.Time
	logger  *slog.Logger
	metrics *Metrics
}

func (r *Router) newWork(rt route, logger *slog.Logger) *unitOfWork {
	if r.metrics != nil {
		r.metrics.inFlight.Inc()
	}
	return &unitOfWork{
		route:   rt,
		state:   stateIdle,
		outcome: outcomeSuccess,
		started: time.Now(),
		logger:  logger,
		metrics: r.metrics,
	}
}

// transition moves to the given state, refusing (and logging) anything
// not in validTransitions
func (w *unitOfWork) transition(to workState) bool {
	if !slices.Contains(validTransitions[w.state], to) {
		w.logger.Warn(
			"refusing invalid state transition",
			"route", string(w.route),
			"from", w.state.String(),
			"to", to.String(),
		)
		return false
	}
	w.logger.Debug(
		"state transition",
		"route", string(w.route),
		"from", w.state.String(),
		"to", to.String(),
	)
	w.state = to
	return true
}

func (w *unitOfWork) fail(outcome string) {
	w.outcome = outcome
}

func (w *unitOfWork) done() {
	if w.state == stateDone {
		return
	}
	w.transition(stateDone)
	w.logger.Info(
		"finished",
		"route", string(w.route),
		"outcome", w.outcome,
		"duration", time.Since(w.started),
	)
	if w.metrics != nil {
		w.metrics.inFlight.Dec()
		w.metrics.routed.WithLabelValues(string(w.route), w.outcome).Inc()
	}
}

// missingProvider stands in for providers that aren't configured
type missingProvider struct {
	unsupportedOperations
}

func (m missingProvider) Name() string {
	return m.provider
}

// Router turns gateway events into provider calls and Discord replies
type Router struct {
	config     *Config
	session    DiscordSessionHandler
	providers  map[string]Provider
	formatter  *ResponseFormatter
	state      *ConversationState
	locks      *threadLocks
	botUserID  func() string
	httpClient *http.Client
	metrics    *Metrics
	logger     *slog.Logger
}

func newRouter(
	config *Config,
	session DiscordSessionHandler,
	providers map[string]Provider,
	translator Translator,
	botUserID func() string,
	metrics *Metrics,
	logger *slog.Logger,
) *Router {
	return &Router{
		config:     config,
		session:    session,
		providers:  providers,
		formatter:  newResponseFormatter(session, translator, logger),
		state:      newConversationState(session, botUserID, config.AnsweringMessage, logger),
		locks:      newThreadLocks(),
		botUserID:  botUserID,
		httpClient: config.HTTPClient,
		metrics:    metrics,
		logger:     logger,
	}
}

func (r *Router) provider(name string) Provider {
	if p, ok := r.providers[name]; ok && p != nil {
		return p
	}
	return missingProvider{unsupportedOperations{provider: name}}
}

// modelFor returns the configured model for the command's provider
func (r *Router) modelFor(cmd SlashCommand) string {
	switch cmd.Provider {
	case ProviderOpenAI:
		if cmd.Kind == commandKindImage {
			return r.config.OpenAI.ImageModel
		}
		return r.config.OpenAI.ChatModel
	case ProviderGemini:
		return r.config.Gemini.Model
	case ProviderClaude:
		return r.config.Claude.Model
	case ProviderStability:
		return r.config.Stability.Engine
	default:
		return ""
	}
}

func resultText(r ProviderResult[string]) string {
	if r.Error != nil {
		return r.Error.Message
	}
	return r.Response
}

// HandleMessage routes a MESSAGE_CREATE event
func (r *Router) HandleMessage(ctx context.Context, m *discordgo.Message) {
	botID := r.botUserID()
	if m == nil || authoredBy(m, botID) {
		return
	}
	logger := r.logger.With(slog.Group("message", messageLogAttrs(m)...))
	ctx = WithLogger(ctx, logger)

	ch, err := r.session.Channel(m.ChannelID)
	if err != nil {
		logger.WarnContext(ctx, "unable to look up channel", tint.Err(err))
		ch = nil
	}

	rt := classifyMessage(m, ch, botID)
	if rt == routeIgnore {
		logger.DebugContext(ctx, "ignoring message")
		return
	}

	work := r.newWork(rt, logger)
	var placeholder *discordgo.Message
	defer func() {
		if rc := recover(); rc != nil {
			handleRecover(ctx, rc)
			work.fail(outcomeError)
			if placeholder != nil {
				if e := r.formatter.EditPlaceholder(ctx, placeholder, genericFailureMessage); e != nil {
					logger.ErrorContext(ctx, "unable to report failure", tint.Err(e))
				}
			}
		}
		work.done()
	}()

	release, err := r.acquire(ctx, m.ChannelID)
	if err != nil {
		work.fail(outcomeBusy)
		if r.metrics != nil {
			r.metrics.busyRefusals.Inc()
		}
		logger.InfoContext(ctx, "channel busy, refusing")
		if _, e := r.formatter.SendRaw(m.ChannelID, err.Error()); e != nil {
			logger.ErrorContext(ctx, "unable to send busy notice", tint.Err(e))
		}
		return
	}
	defer release()

	if !work.transition(stateDispatching) {
		return
	}
	placeholder, err = r.formatter.SendRaw(m.ChannelID, r.config.AnsweringMessage)
	if err != nil {
		work.fail(outcomeError)
		logger.ErrorContext(ctx, "unable to post placeholder", tint.Err(err))
		return
	}

	switch rt {
	case routeConversation:
		r.conversationTurn(ctx, work, m, placeholder)
	case routeImageRevision:
		r.imageRevision(ctx, work, m, ch, placeholder)
	case routeImageVariation:
		r.imageVariation(ctx, work, m, placeholder)
	}
}

// acquire takes the channel's lock and checks the transcript for an
// in-progress answer. The returned func releases the lock.
func (r *Router) acquire(ctx context.Context, channelID string) (func(), error) {
	release, ok := r.locks.TryAcquire(channelID)
	if !ok {
		return release, errChannelBusy
	}
	if r.state.IsBusy(ctx, channelID) {
		release()
		return func() {}, errChannelBusy
	}
	return release, nil
}

// respond moves the work to stateResponding and replaces the placeholder
// with content
func (r *Router) respond(
	ctx context.Context,
	work *unitOfWork,
	placeholder *discordgo.Message,
	content string,
) {
	work.transition(stateResponding)
	if err := r.formatter.EditPlaceholder(ctx, placeholder, content); err != nil {
		work.fail(outcomeError)
		contextLoggerOr(ctx, r.logger).ErrorContext(ctx, "unable to edit placeholder", tint.Err(err))
	}
}

func (r *Router) conversationTurn(
	ctx context.Context,
	work *unitOfWork,
	m *discordgo.Message,
	placeholder *discordgo.Message,
) {
	logger := contextLoggerOr(ctx, r.logger)
	history, err := r.state.CollectContext(ctx, m.ChannelID, conversationHistoryLimit)
	if err != nil {
		logger.ErrorContext(ctx, "unable to collect conversation", tint.Err(err))
		work.fail(outcomeError)
		r.respond(ctx, work, placeholder, genericFailureMessage)
		return
	}

	result := r.provider(ProviderOpenAI).Conversation(ctx, r.config.OpenAI.ChatModel, history)
	if !result.OK() {
		work.fail(outcomeError)
	}
	r.respond(ctx, work, placeholder, resultText(result))
}

// revisionPrompts gathers the prompts an image was generated from. In a
// thread, that's the thread name followed by everything non-bot in the
// latest messages, newest first. Otherwise it's the prompt from the
// referenced message's header.
func (r *Router) revisionPrompts(
	ctx context.Context,
	m *discordgo.Message,
	ch *discordgo.Channel,
) []string {
	if !isThread(ch) {
		return []string{promptFromQuestionHeader(m.ReferencedMessage.Content)}
	}
	prompts := []string{ch.Name}
	msgs, err := r.session.ChannelMessages(m.ChannelID, conversationHistoryLimit, "", "", "")
	if err != nil {
		contextLoggerOr(ctx, r.logger).WarnContext(
			ctx,
			"unable to read thread history",
			tint.Err(err),
		)
		return prompts
	}
	botID := r.botUserID()
	for _, hm := range msgs {
		if hm == nil || authoredBy(hm, botID) {
			continue
		}
		prompts = append(prompts, stripMentions(hm.Content))
	}
	return prompts
}

func (r *Router) imageRevision(
	ctx context.Context,
	work *unitOfWork,
	m *discordgo.Message,
	ch *discordgo.Channel,
	placeholder *discordgo.Message,
) {
	logger := contextLoggerOr(ctx, r.logger)
	prior := r.revisionPrompts(ctx, m, ch)
	prompt := buildRevisionPrompt(prior, stripMentions(m.Content))
	logger.DebugContext(ctx, "revising image", "prior_prompts", len(prior))

	result := r.provider(ProviderOpenAI).GenerateImage(ctx, r.config.OpenAI.ImageModel, prompt)
	if !result.OK() {
		work.fail(outcomeError)
		r.respond(ctx, work, placeholder, result.Error.Message)
		return
	}
	img := result.Response
	defer func() {
		if err := img.Remove(); err != nil {
			logger.WarnContext(ctx, "unable to remove image", tint.Err(err))
		}
	}()

	if isThread(ch) {
		work.transition(stateResponding)
		if err := r.formatter.EditPlaceholderImage(ctx, placeholder, "", img); err != nil {
			work.fail(outcomeError)
			logger.ErrorContext(ctx, "unable to edit placeholder", tint.Err(err))
		}
		return
	}

	thread, err := r.formatter.StartThread(ctx, m.ChannelID, prior[0])
	if err != nil {
		logger.ErrorContext(ctx, "unable to start thread", tint.Err(err))
		work.fail(outcomeError)
		r.respond(ctx, work, placeholder, genericFailureMessage)
		return
	}
	work.transition(stateResponding)
	if err = r.formatter.SendImage(ctx, thread.ID, "", img); err != nil {
		work.fail(outcomeError)
		logger.ErrorContext(ctx, "unable to send image to thread", tint.Err(err))
	}
	if err = r.formatter.EditPlaceholder(ctx, placeholder, threadReplyMessage+thread.Mention()); err != nil {
		work.fail(outcomeError)
		logger.ErrorContext(ctx, "unable to edit placeholder", tint.Err(err))
	}
}

// validateAttachments requires exactly one PNG or JPEG attachment
func validateAttachments(attachments []*discordgo.MessageAttachment) error {
	switch {
	case len(attachments) == 0:
		return invalidAttachment(noAttachmentMessage)
	case len(attachments) > 1:
		return invalidAttachment(tooManyAttachments)
	}
	a := attachments[0]
	if a == nil || !isAllowedContentType(a.ContentType) {
		return invalidAttachment(invalidImageTypeMessage)
	}
	return nil
}

func (r *Router) imageVariation(
	ctx context.Context,
	work *unitOfWork,
	m *discordgo.Message,
	placeholder *discordgo.Message,
) {
	logger := contextLoggerOr(ctx, r.logger)
	if err := validateAttachments(m.Attachments); err != nil {
		work.fail(outcomeRejected)
		r.respond(ctx, work, placeholder, err.Error())
		return
	}

	p, mtype, err := downloadImage(
		ctx,
		r.httpClient,
		m.Attachments[0].URL,
		r.config.TempDir,
		discordMaxAttachmentBytes,
	)
	if err != nil {
		logger.ErrorContext(ctx, "unable to download attachment", tint.Err(err))
		work.fail(outcomeError)
		r.respond(ctx, work, placeholder, genericFailureMessage)
		return
	}
	defer func() {
		if e := removeTempFile(p); e != nil {
			logger.WarnContext(ctx, "unable to remove temp file", tint.Err(e), "path", p)
		}
	}()
	if !isAllowedImageType(mtype) {
		logger.InfoContext(ctx, "attachment isn't a supported image", "mime", mtype.String())
		work.fail(outcomeRejected)
		r.respond(ctx, work, placeholder, invalidImageTypeMessage)
		return
	}

	result := r.provider(ProviderOpenAI).CreateImageVariation(ctx, r.config.OpenAI.VariationModel, p)
	if !result.OK() {
		work.fail(outcomeError)
		r.respond(ctx, work, placeholder, result.Error.Message)
		return
	}
	work.transition(stateResponding)
	if err = r.formatter.EditPlaceholderEmbed(
		ctx,
		placeholder,
		variationSuccessMessage,
		result.Response.URL,
	); err != nil {
		work.fail(outcomeError)
		logger.ErrorContext(ctx, "unable to edit placeholder", tint.Err(err))
	}
}

// HandleInteraction routes an INTERACTION_CREATE event. Slash commands
// are never gated on the channel being busy.
func (r *Router) HandleInteraction(ctx context.Context, i *discordgo.InteractionCreate) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	logger := r.logger.With(slog.Group("interaction", interactionLogAttrs(*i)...))
	ctx = WithLogger(ctx, logger)

	cmd, ok := lookupCommand(i.ApplicationCommandData().Name)
	if !ok {
		logger.WarnContext(ctx, "unknown command")
		return
	}

	work := r.newWork(routeCommand, logger.With("command", cmd.Name))
	acked := false
	defer func() {
		if rc := recover(); rc != nil {
			handleRecover(ctx, rc)
			work.fail(outcomeError)
			if acked {
				if e := r.formatter.FollowUp(ctx, i.Interaction, genericFailureMessage); e != nil {
					logger.ErrorContext(ctx, "unable to report failure", tint.Err(e))
				}
			}
		}
		work.done()
	}()

	if cmd.Kind == commandKindConversation && r.inThread(ctx, i.ChannelID) {
		work.fail(outcomeRejected)
		if err := r.session.InteractionRespond(
			i.Interaction,
			&discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{Content: threadOnlyMessage},
			},
		); err != nil {
			logger.ErrorContext(ctx, "unable to respond to interaction", tint.Err(err))
		}
		return
	}

	if err := r.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		},
	); err != nil {
		work.fail(outcomeError)
		logger.ErrorContext(ctx, "unable to acknowledge interaction", tint.Err(err))
		return
	}
	acked = true
	work.transition(stateDispatching)

	options := discordInteractionOptions(i)
	var err error
	switch cmd.Kind {
	case commandKindQuestion:
		err = r.runQuestion(ctx, work, cmd, i.Interaction, options)
	case commandKindImage:
		err = r.runImage(ctx, work, cmd, i.Interaction, options)
	case commandKindConversation:
		err = r.runConversation(ctx, work, cmd, i.Interaction, options)
	case commandKindIssue:
		err = r.runIssue(ctx, work, cmd, i, options)
	}
	if err != nil {
		work.fail(outcomeError)
		logger.ErrorContext(ctx, "unable to respond", tint.Err(err))
	}
}

func (r *Router) inThread(ctx context.Context, channelID string) bool {
	ch, err := r.session.Channel(channelID)
	if err != nil {
		contextLoggerOr(ctx, r.logger).WarnContext(ctx, "unable to look up channel", tint.Err(err))
		return false
	}
	return isThread(ch)
}

type interactionOptions = map[string]*discordgo.ApplicationCommandInteractionDataOption

func (r *Router) runQuestion(
	ctx context.Context,
	work *unitOfWork,
	cmd SlashCommand,
	i *discordgo.Interaction,
	options interactionOptions,
) error {
	prompt := optionString(options, commandOptionPrompt)
	result := r.provider(cmd.Provider).Question(ctx, r.modelFor(cmd), prompt, cmd.Persona.SystemText())
	if !result.OK() {
		work.fail(outcomeError)
	}
	work.transition(stateResponding)
	return r.formatter.FollowUp(ctx, i, questionHeader(prompt)+resultText(result))
}

func (r *Router) runImage(
	ctx context.Context,
	work *unitOfWork,
	cmd SlashCommand,
	i *discordgo.Interaction,
	options interactionOptions,
) error {
	prompt := optionString(options, commandOptionPrompt)
	header := questionHeader(prompt)
	var imageOpts []ImageOption
	if negative := optionString(options, commandOptionNegativePrompt); negative != "" {
		imageOpts = append(imageOpts, WithNegativePrompt(negative))
	}

	result := r.provider(cmd.Provider).GenerateImage(ctx, r.modelFor(cmd), prompt, imageOpts...)
	work.transition(stateResponding)
	if !result.OK() {
		work.fail(outcomeError)
		return r.formatter.FollowUp(ctx, i, header+result.Error.Message)
	}
	img := result.Response
	defer func() {
		if err := img.Remove(); err != nil {
			contextLoggerOr(ctx, r.logger).WarnContext(ctx, "unable to remove image", tint.Err(err))
		}
	}()
	return r.formatter.FollowUpImage(ctx, i, header, img)
}

func (r *Router) runConversation(
	ctx context.Context,
	work *unitOfWork,
	cmd SlashCommand,
	i *discordgo.Interaction,
	options interactionOptions,
) error {
	prompt := optionString(options, commandOptionPrompt)
	header := questionHeader(prompt)
	result := r.provider(cmd.Provider).Question(ctx, r.modelFor(cmd), prompt, cmd.Persona.SystemText())
	work.transition(stateResponding)
	if !result.OK() {
		work.fail(outcomeError)
		return r.formatter.FollowUp(ctx, i, header+result.Error.Message)
	}

	thread, err := r.formatter.StartThread(ctx, i.ChannelID, prompt)
	if err != nil {
		return errors.Join(err, r.formatter.FollowUp(ctx, i, genericFailureMessage))
	}
	if err = r.formatter.FollowUp(ctx, i, threadCreatedMessage+thread.Mention()); err != nil {
		return err
	}
	return r.formatter.Send(ctx, thread.ID, header+result.Response)
}

// issueAuthor masks all but the first characters of the username
func issueAuthor(username string) string {
	return truncate(username, issueAuthorVisibleRunes) + issueAuthorMask
}

func (r *Router) runIssue(
	ctx context.Context,
	work *unitOfWork,
	cmd SlashCommand,
	i *discordgo.InteractionCreate,
	options interactionOptions,
) error {
	title := optionString(options, commandOptionTitle)
	message := optionString(options, commandOptionMessage)
	header := fencedBlock(title+"\n"+message) + "\n"

	var username string
	if u := getDiscordUser(i); u != nil {
		username = u.Username
	}
	result := r.provider(cmd.Provider).CreateIssue(ctx, issueAuthor(username), title, message)
	work.transition(stateResponding)
	if !result.OK() {
		work.fail(outcomeError)
		return r.formatter.FollowUp(ctx, i.Interaction, header+result.Error.Message)
	}
	return r.formatter.FollowUp(ctx, i.Interaction, header+issueCreatedMessage+result.Response)
}
