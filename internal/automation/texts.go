package automation

import "whatsapp-crm/internal/models"

// System button and list reply ids.
const (
	ReplyStuckContinue = "stuck_continue"
	ReplyStuckEnd      = "stuck_end"
	ReplyFollowUpYes   = "followup_yes"
	ReplyFollowUpNo    = "followup_no"
	ReplyRatePrefix    = "rate_"
	ReplyReasonPrefix  = "reason_"
)

type localized map[string]string

func (l localized) In(lang string) string {
	if s, ok := l[lang]; ok {
		return s
	}
	return l[models.LangEnglish]
}

var (
	textStuckPrompt = localized{
		models.LangEnglish: "Apologies, I didn't get a response from you! Please complete your enquiry so we can arrange the best assistance for you. ",
		models.LangArabic:  "أعتذر، لم أتلقَّ ردًا منك! يُرجى إكمال استفسارك حتى نتمكن من تقديم أفضل مساعدة لك. ",
	}
	textStuckContinue = localized{models.LangEnglish: "Continue", models.LangArabic: "متابعة"}
	textStuckEnd      = localized{models.LangEnglish: "End Chat", models.LangArabic: "إنهاء المحادثة"}

	textTimeout = localized{
		models.LangEnglish: "I have not heard from you in a while, so I'll be ending this chat session. Feel free to reach out again whenever you require further assistance.\nThank you!",
		models.LangArabic:  "لم نسمع منك منذ فترة، لذا سنقوم بإنهاء هذه الجلسة. لا تتردد في التواصل معنا مرة أخرى عندما تحتاج إلى مساعدة. شكراً لك!",
	}

	textBye = localized{
		models.LangEnglish: "Thank you for your time. One of our Consultants will contact you shortly to assist you. Have a great day! 👋",
		models.LangArabic:  "شكراً لوقتك. سيتصل بك أحد مستشارينا قريباً لمساعدتك. نتمنى لك يوماً سعيداً! 👋",
	}

	textContinueFallback = localized{
		models.LangEnglish: "How can we assist you?",
		models.LangArabic:  "كيف يمكننا مساعدتك؟",
	}

	textInvalidEmail = localized{
		models.LangEnglish: "Invalid email. Please enter a valid email address (example: name@example.com)\n\nOr type *skip* to continue without email.",
		models.LangArabic:  "البريد الإلكتروني غير صالح. يرجى إدخال بريد إلكتروني صحيح (مثال: name@example.com)\n\nأو اكتب *skip* للمتابعة بدون بريد إلكتروني.",
	}

	textRatingThanks = localized{
		models.LangEnglish: "Thank you for your feedback!",
		models.LangArabic:  "شكراً لملاحظاتك!",
	}

	textInterested = localized{
		models.LangEnglish: "Your interest has been noted. One of our Sales Consultant will contact you shortly to assist you, Thank you for your response.",
		models.LangArabic:  "لقد تم تسجيل اهتمامكم. سيتصل بكم أحد مستشاري المبيعات لدينا قريباً لمساعدتكم، شكراً لردكم.",
	}
)

const (
	textNotInterested   = "We respect your choice. If at any point you'd like to revisit, our team will be ready to help you."
	textUnsubscribeAsk  = "We've received your request to unsubscribe. Before you go, could you tell us why?"
	textReasonListBody  = "Please select a reason:"
	textReasonButton    = "Reason"
	textReasonSection   = "Select a reason"
	textReasonOtherAsk  = "Please type your reason below so we can improve."
	textUnsubscribed    = "You’ve been unsubscribed. Thank you for your feedback."
	textWelcomeBack     = "Hello and welcome back! How can we help you"
	textReviewBody      = "How would you rate your experience with your Capital Avenue assistant today?"
	textReviewButton    = "Rate Experience"
	textReviewSection   = "Your Experience"
	defaultListButton   = "Options"
	unsubscriberList    = "Unsubscriber List"
	reasonOther         = "Other"
	leadNotificationFmt = "NEW LEAD RECEIVED\n\n%s\n%s\n%s\nWhatsApp"
)

// UnsubscribeReasons are offered, in order, after a stop request.
var UnsubscribeReasons = []string{
	"Too many messages",
	"Not relevant",
	"Already purchased",
	"Prefer another channel",
	reasonOther,
}

// StuckPrompt returns the localized two-button prompt sent to idle conversations.
func StuckPrompt(lang string) (string, []models.InteractiveButton) {
	return textStuckPrompt.In(lang), []models.InteractiveButton{
		{ID: ReplyStuckContinue, Title: textStuckContinue.In(lang)},
		{ID: ReplyStuckEnd, Title: textStuckEnd.In(lang)},
	}
}

func TimeoutText(lang string) string {
	return textTimeout.In(lang)
}

// ReviewRequest returns the five-option satisfaction list.
func ReviewRequest() (body, button string, sections []models.InteractiveSection) {
	return textReviewBody, textReviewButton, []models.InteractiveSection{{
		Title: textReviewSection,
		Rows: []models.InteractiveRow{
			{ID: ReplyRatePrefix + "5", Title: "⭐⭐⭐⭐⭐ Excellent"},
			{ID: ReplyRatePrefix + "4", Title: "⭐⭐⭐⭐ Good"},
			{ID: ReplyRatePrefix + "3", Title: "⭐⭐⭐ Average"},
			{ID: ReplyRatePrefix + "2", Title: "⭐⭐ Poor"},
			{ID: ReplyRatePrefix + "1", Title: "⭐ Very Poor"},
		},
	}}
}
