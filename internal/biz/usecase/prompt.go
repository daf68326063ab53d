package usecase

import (
	"strings"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
)

// PromptConfig contains every text fragment the composer assembles.
// Placeholders use the {{name}} form.
type PromptConfig struct {
	// Persona is the outer template
	// ({{bot_name}}, {{store_name}}, {{language_rule}}, {{business_type}}, {{products}},
	// {{work_hours}}, {{location}}, {{additional_info}}, {{knowledge_base}},
	// {{live_updates}}, {{learned_memory}}, {{greeting_rule}}, {{tone_rule}},
	// {{emoji_rule}}, {{customer_name}})
	Persona string

	GreetingFirst        string // {{bot_name}}
	GreetingReturning    string
	GreetingContinuation string

	ToneCasual   string
	ToneBalanced string
	ToneFormal   string

	LanguageArabic    string
	LanguageEnglish   string
	LanguageBilingual string

	EmojiAllowed   string
	EmojiForbidden string

	NonePlaceholder      string
	UnknownCustomer      string
	ObservationSeparator string

	// Bridging instructions after the owner answers ({{instruction}}, {{bot_name}}, {{user_message}})
	BridgeHotLead  string
	BridgeDiscount string
	BridgeUnknown  string

	// Distillation of owner corrections ({{question}}, {{reply}})
	DistillPrompt   string
	NothingSentinel string

	// Canned customer-facing replies; the English variants serve LanguageEnglish bots
	QuotaReply          string
	NetworkReply        string
	QuotaReplyEnglish   string
	NetworkReplyEnglish string
	ImagePlaceholder string
	EmptyPlaceholder string

	// Operator system notes
	NoteDiscount       string
	NoteUnknown        string
	NoteHandoff        string
	NoteAutoDeactivate string
	NoteLearned        string // {{observation}}
	NoteMemoryUpdated  string // {{instruction}}
	NoteDirectiveSaved string // {{instruction}}

	// History window sent to the model
	MaxHistoryCount int
}

// DefaultPromptConfig contains the default persona and protocol text
var DefaultPromptConfig = PromptConfig{
	Persona: `
أنت "{{bot_name}}"، المساعد الذكي الخاص بـ ({{store_name}}).
صفتك: ذكي، لماح، محترف.

{{language_rule}}

المصادر الوحيدة لمعلوماتك:
- النشاط: {{business_type}}
- المنتجات: {{products}}
- ساعات العمل: {{work_hours}}
- الموقع: {{location}}
- ملاحظات: {{additional_info}}
- قاعدة المعرفة: {{knowledge_base}}
- تحديثات فورية من المالك: {{live_updates}}
- الذاكرة المكتسبة: {{learned_memory}}

---

⚡ **قواعد الرد الذكي (البروتوكول الصارم):**
يجب أن يكون ردك دائماً في "رسالة واحدة فقط" ومترابطة.

{{greeting_rule}}

2️⃣ **حجم الرد (الذكاء البلاغي):**
   - **قاعدة ذهبية:** الرد على قدر السؤال.
   - إذا سأل سؤال قصير (بكم؟ وينكم؟) -> جاوب بكلمتين وبس. لا تسرد قصائد.
   - إذا سأل تفاصيل دقيقة -> جاوب بتفصيل وافي ومرتب.
   - لا تكن جافاً، ولا ثرثاراً.

3️⃣ **القرار الذكي (الرد):**
   - **الحالة أ (سؤال واضح):** جاوب مباشرة بناءً على البيانات.
   - **الحالة ب (صورة/غموض):** قل "وصلتني الصورة.. تفضل وش حاب تستفسر عنه؟".

4️⃣ **استراتيجية الإغلاق (Sales Handoff Strategy):**
   - أنت مساعد مبيعات ولست "الكاشير".
   - **متى تحول العميل؟** إذا وافق على السعر، قال "تم"، سأل "كيف أدفع"، أو أبدى رغبة مؤكدة للشراء.
   - **السيناريو الإجباري:** قل له جملة بمعناها: "اختيار ممتاز! عشان نخدمك ونتمم الطلب بسرعة، بحولك الآن للمالك/المسؤول يكمل معاك الإجراءات حالاً."
   - ثم اختم الرد بـ الرمز: [[REQ_HANDOFF]]

---

🚫 **ممنوعات:**
- لا تكرر التعريف بنفسك نهائياً بعد المرة الأولى.
- لا تطلب إعادة الإرسال.
- لا تخترع معلومات.

{{tone_rule}}

{{emoji_rule}}

🕵️ **تحليل العميل:**
العميل: {{customer_name}}. طابق أسلوبك معه.

⚙️ **أوامر النظام:**
- سؤال مستحيل أو غامض لا تعرف جوابه؟ رد بـ "[[UNKNOWN_QUERY]]".
- طلب خصم؟ رد بـ "[[REQ_DISCOUNT]]".
- عميل جاهز للشراء؟ جملة التحويل ثم "[[REQ_HANDOFF]]".
`,

	GreetingFirst: `1️⃣ **التحية والتعريف (أول رسالة فقط):**
     - ابدأ بالرسالة الافتتاحية الإجبارية: "حياك الله 👋 أنا المساعد الذكي، اسمي {{bot_name}}..".
     - بعدها مباشرة جاوب على استفساره.`,
	GreetingReturning: `1️⃣ **الذاكرة (عودة عميل بعد فترة):**
     - العميل غاب أكثر من 48 ساعة ورجع.
     - رحب به ترحيب "العائد" (يا هلا فيك مرة ثانية، نورتنا..، حياك الله من جديد).
     - 🚫 **ممنوع تعرف بنفسك أبداً**. هو يعرفك.
     - ادخل في الموضوع مباشرة.`,
	GreetingContinuation: `1️⃣ **السياق (محادثة مستمرة):**
     - 🚫 **ممنوع التحية** (لا تقل هلا، ولا سلام، ولا مرحباً).
     - 🚫 **ممنوع التعريف بنفسك**.
     - اعتبر الرسالة الحالية تكملة للجملة السابقة. جاوب فوراً بدون أي مقدمات.`,

	ToneCasual: `🎭 الأسلوب (ودّي جداً - خوي):
    - تكلم بعفوية تامة وكأنك صديق للعميل.
    - استخدم عبارات مثل: (من عيوني، ولا يهمك، أبشر بعزك، يا هلا والله).`,
	ToneBalanced: `🎭 الأسلوب (بائع محترف - متوازن):
    - خليط بين الاحترام والود.
    - استخدم (يا غالي، أبشر، تمام).
    - ركز على إتمام البيعة بذكاء وبدون تكلف.`,
	ToneFormal: `🎭 الأسلوب (رسمي جداً):
    - تكلم باحترافية عالية واحترام بالغ.
    - استخدم عبارات مثل: (حضرتك، طال عمرك، يسعدنا خدمتكم).
    - تجنب الكلمات العامية المفرطة.`,

	LanguageArabic:  `🌍 **Language Rule:** لغتك الوحيدة هي العربية (اللهجة الخليجية البيضاء/السعودية). لا ترد بأي لغة أخرى.`,
	LanguageEnglish: `🌍 **Language Rule:** You MUST reply in ENGLISH ONLY. Even if the user speaks Arabic, reply in professional English.`,
	LanguageBilingual: `🌍 **Language Rule:** You are BILINGUAL.
    - If the user speaks Arabic, reply in Arabic (Khaleeji dialect).
    - If the user speaks English, reply in English.
    - Match the user's language immediately.`,

	EmojiAllowed:   `😊 استخدم الإيموجي باعتدال.`,
	EmojiForbidden: `🚫 لا تستخدم الإيموجي.`,

	NonePlaceholder:      "لا يوجد",
	UnknownCustomer:      "غير معروف",
	ObservationSeparator: " | ",

	BridgeHotLead: `أنت حولت العميل للمالك، والمالك الآن رد بالمعلومة التالية: "{{instruction}}".
المطلوب: وصل المعلومة للعميل بشكل مباشر لتكملة البيعة.`,
	BridgeDiscount: `توجيه المالك بخصوص الخصم: "{{instruction}}"
المطلوب: بصفتك ({{bot_name}})، أعد صياغة هذا التوجيه للعميل بأسلوبك البشري الطبيعي المختصر.`,
	BridgeUnknown: `العميل سأل: "{{user_message}}" وأنت قلت له أنك ستتأكد.
الآن، المالك أعطاك المعلومة الصحيحة وهي: "{{instruction}}"
المطلوب: جاوب العميل الآن بالمعلومة هذي بأسلوبك اللبق والمختصر.`,

	DistillPrompt: `You are an AI Apprentice learning from a Master Salesman.
Context: Customer Asked: "{{question}}", Owner Replied: "{{reply}}"
Task: Create a "Golden Rule" in Arabic, keeping the owner's dialect.
Output format: "عند السؤال عن [Topic]، الرد المعتمد هو: [Reply]"
If generic, return "NOTHING".`,
	NothingSentinel: "NOTHING",

	QuotaReply:       "المعذرة، عندي ضغط رسائل حالياً، ممكن تعيد سؤالك بعد شوي؟ 🌹",
	NetworkReply:     "النت يقطع عندي، دقيقة بس...",

	QuotaReplyEnglish:   "Sorry, I'm getting a lot of messages right now. Could you ask again in a bit? 🌹",
	NetworkReplyEnglish: "My connection keeps dropping, one moment...",

	ImagePlaceholder: "شرايك بهذي الصورة؟",
	EmptyPlaceholder: ".",

	NoteDiscount:       "🔔 طلب خصم جديد. اكتب ردك بعد علامة !",
	NoteUnknown:        "⚠️ استفسار غير معروف. أرسل المعلومة الصحيحة بعد علامة !",
	NoteHandoff:        "🔥 عميل جاهز للشراء! ادخل المحادثة أو اكتب ردك بعد علامة !",
	NoteAutoDeactivate: "⚠️ تم إيقاف المساعد تلقائياً لأنك تدخلت في المحادثة.",
	NoteLearned:        `🧠 تعلمت معلومة جديدة: "{{observation}}"`,
	NoteMemoryUpdated:  `✅ تم تحديث الذاكرة الدائمة: "{{instruction}}"`,
	NoteDirectiveSaved: `📣 توجيهك: "{{instruction}}" (تم الحفظ)`,

	MaxHistoryCount: 10,
}

// FallbackReply returns the canned reply for a failed model call in the
// bot's language
func (c PromptConfig) FallbackReply(lang domain.LanguageMode, quota bool) string {
	if lang == domain.LanguageEnglish {
		if quota {
			return c.QuotaReplyEnglish
		}
		return c.NetworkReplyEnglish
	}
	if quota {
		return c.QuotaReply
	}
	return c.NetworkReply
}

// Composer builds system instructions and auxiliary prompts.
// All methods are pure.
type Composer struct {
	cfg PromptConfig
}

// NewComposer creates a composer over the given templates
func NewComposer(cfg PromptConfig) *Composer {
	return &Composer{cfg: cfg}
}

// Config returns the templates in use
func (c *Composer) Config() PromptConfig {
	return c.cfg
}

// Compose builds the system instruction for one model call.
// hoursSinceLast < 0 means the customer has never written before.
func (c *Composer) Compose(profile *domain.BotProfile, ephemeral string, caller *domain.CustomerProfile, hoursSinceLast float64) string {
	customer := c.cfg.UnknownCustomer
	if caller != nil && strings.TrimSpace(caller.FullName) != "" {
		customer = caller.FullName
	}

	r := strings.NewReplacer(
		"{{language_rule}}", c.languageRule(profile.Language),
		"{{greeting_rule}}", fill(c.greetingRule(hoursSinceLast), "{{bot_name}}", profile.BotName),
		"{{tone_rule}}", c.toneRule(profile.ToneValue),
		"{{emoji_rule}}", c.emojiRule(profile.UseEmoji),
		"{{bot_name}}", profile.BotName,
		"{{store_name}}", profile.StoreName,
		"{{business_type}}", c.orNone(profile.BusinessType),
		"{{products}}", c.orNone(profile.Products),
		"{{work_hours}}", c.orNone(profile.WorkHours),
		"{{location}}", c.location(profile),
		"{{additional_info}}", c.orNone(profile.AdditionalInfo),
		"{{knowledge_base}}", c.orNone(profile.KnowledgeBase),
		"{{live_updates}}", c.orNone(ephemeral),
		"{{learned_memory}}", c.observations(profile.LearnedObservations),
		"{{customer_name}}", customer,
	)
	return r.Replace(c.cfg.Persona)
}

// BridgeInstruction builds the synthetic turn that relays an owner answer
func (c *Composer) BridgeInstruction(action *domain.PendingAction, botName, instruction string) string {
	var tpl string
	switch action.Type {
	case domain.ActionHotLead:
		tpl = c.cfg.BridgeHotLead
	case domain.ActionDiscountRequest:
		tpl = c.cfg.BridgeDiscount
	default:
		tpl = c.cfg.BridgeUnknown
	}
	return strings.NewReplacer(
		"{{instruction}}", instruction,
		"{{bot_name}}", botName,
		"{{user_message}}", action.UserMessage,
	).Replace(tpl)
}

// DistillPrompt builds the prompt that turns an owner correction into a rule
func (c *Composer) DistillPrompt(question, reply string) string {
	return strings.NewReplacer("{{question}}", question, "{{reply}}", reply).Replace(c.cfg.DistillPrompt)
}

// Note renders an operator system note template
func (c *Composer) Note(tpl, key, value string) string {
	return fill(tpl, key, value)
}

func (c *Composer) greetingRule(hours float64) string {
	switch domain.StageFor(hours) {
	case domain.StageFirstMessage:
		return c.cfg.GreetingFirst
	case domain.StageReturning:
		return c.cfg.GreetingReturning
	default:
		return c.cfg.GreetingContinuation
	}
}

func (c *Composer) toneRule(tone int) string {
	switch domain.RegisterFor(tone) {
	case domain.ToneCasual:
		return c.cfg.ToneCasual
	case domain.ToneFormal:
		return c.cfg.ToneFormal
	default:
		return c.cfg.ToneBalanced
	}
}

func (c *Composer) languageRule(mode domain.LanguageMode) string {
	switch mode {
	case domain.LanguageEnglish:
		return c.cfg.LanguageEnglish
	case domain.LanguageBilingual:
		return c.cfg.LanguageBilingual
	default:
		return c.cfg.LanguageArabic
	}
}

func (c *Composer) emojiRule(allowed bool) string {
	if allowed {
		return c.cfg.EmojiAllowed
	}
	return c.cfg.EmojiForbidden
}

func (c *Composer) location(p *domain.BotProfile) string {
	loc := strings.TrimSpace(p.Location)
	if p.Country != "" {
		if loc != "" {
			loc += "، "
		}
		loc += p.Country
	}
	if p.LocationURL != "" {
		loc += " (" + p.LocationURL + ")"
	}
	return c.orNone(loc)
}

func (c *Composer) observations(obs []string) string {
	if len(obs) == 0 {
		return c.cfg.NonePlaceholder
	}
	return strings.Join(obs, c.cfg.ObservationSeparator)
}

func (c *Composer) orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return c.cfg.NonePlaceholder
	}
	return s
}

func fill(tpl, key, value string) string {
	return strings.ReplaceAll(tpl, key, value)
}
