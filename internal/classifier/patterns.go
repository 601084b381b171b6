package classifier

import (
	"regexp"

	"github.com/iamwavecut/ngtrust/internal/policy/violation"
)

const (
	minPhoneDigits = 9
	maxPhoneDigits = 15
	maxLinks       = 3
	maxCharRun     = 10
)

// rule is one compiled detector. Rules run against normalized text.
type rule struct {
	category violation.Type
	re       *regexp.Regexp
}

var builtinRules = []rule{
	{violation.Email, regexp.MustCompile(`[a-z0-9._%+\-]+@[a-z0-9\-]+(?:\.[a-z0-9\-]+)*\.[a-z]{2,}`)},
	{violation.SocialMediaLink, regexp.MustCompile(
		`(?:https?://)?(?:www\.)?\b(?:instagram\.com|facebook\.com|fb\.me|fb\.com|t\.me|telegram\.me|wa\.me|whatsapp\.com|` +
			`twitter\.com|x\.com|tiktok\.com|snapchat\.com|linkedin\.com|discord\.gg|discord\.com|line\.me|vk\.com)\b(?:/\S*)?`)},
	{violation.SocialMediaMention, regexp.MustCompile(
		`\b(?:add|message|msg|text|contact|reach|find|dm|ping|call|chat|talk|write|follow|hit)(?: me| us)?(?: up)? ` +
			`(?:on|via|at|in|over|through) (?:my )?` + messengers + `\b`)},
	{violation.SocialMediaMention, regexp.MustCompile(
		`\b(?:continue|move|switch|go|talk|chat)(?: this| it| the (?:chat|conversation))? (?:to|on|over to) ` + messengers + `\b`)},
	{violation.SocialMediaMention, regexp.MustCompile(`\b(?:my|our) ` + messengers + `\b`)},
	{violation.SocialMediaMention, regexp.MustCompile(`\b` + messengers + ` (?:id|handle|username|user name|number|account|nick)\b`)},
	{violation.SocialMediaMention, regexp.MustCompile(`(?:^|\s)@[a-z0-9_.]{3,30}\b`)},
	{violation.ExternalPayment, regexp.MustCompile(
		`\b(?:paypal|venmo|cash ?app|zelle|western union|moneygram|wire transfer|bank transfer|iban|swift code|` +
			`bitcoin|btc|usdt|ethereum|crypto wallet|revolut)\b`)},
	{violation.ExternalPayment, regexp.MustCompile(
		`\b(?:pay|paying|send|sending|buy|purchase)(?: \w+){0,3} (?:with |in |via |by |using )?(?:an? |some )?(?:gift ?cards?|prepaid cards?)\b|` +
			`\b(?:gift ?card|prepaid card) (?:codes?|numbers?|pins?)\b`)},
	{violation.ExternalTransaction, regexp.MustCompile(
		`\b(?:pay (?:me )?(?:directly|outside|off[- ]?(?:site|platform|app))|` +
			`(?:outside|off) (?:of )?(?:the |this )?(?:platform|site|app)|` +
			`(?:avoid|skip|save on) (?:the )?(?:platform )?fees?|deal directly|buy directly from me|` +
			`(?:meet|pick ?up) (?:\w+ )?(?:and|&) pay (?:in )?cash|cash on (?:pickup|delivery))\b`)},
	{violation.Spam, regexp.MustCompile(`\b(?:bit\.ly|tinyurl\.com|goo\.gl|t\.co|ow\.ly|is\.gd|cutt\.ly|rb\.gy)/\S+`)},
	{violation.Spam, regexp.MustCompile(`\b(?:free money|click here to win|earn \$?\d+ (?:per|a) (?:day|hour)|work from home and earn)\b`)},
}

const messengers = `(?:instagram|insta|ig|facebook|fb|whatsapp|whats app|telegram|snapchat|tiktok|twitter|` +
	`discord|wechat|viber|kik)`

var (
	phoneCandidate = regexp.MustCompile(`\+?[\d(][\d\s().\-]{6,}\d`)
	linkRe         = regexp.MustCompile(`https?://\S+|www\.\S+`)
)

// Digit runs that are not phone numbers. They are cut out before phone candidates are
// collected so that neighbouring digits do not merge into one long run.
var notPhone = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{4}[-./]\d{1,2}[-./]\d{1,2}\b`),
	regexp.MustCompile(`\b\d{1,2}[-./]\d{1,2}[-./]\d{2,4}\b`),
	regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?(?:\s?[ap]\.?m\.?)?`),
	regexp.MustCompile(`(?:\b(?:order|tracking|track|invoice|receipt|ref|reference|sku|parcel|shipment|serial)` +
		`(?: (?:number|no\.?|num|id|code))?|#)\s*[:#]?\s*[a-z0-9]*\d[a-z0-9\-]*(?:\s+[a-z0-9]*\d[a-z0-9\-]*)*`),
}

var blockedReasons = map[violation.Type]string{
	violation.PhoneNumber:         "sharing phone numbers is not allowed, please keep communication on the platform",
	violation.Email:               "sharing email addresses is not allowed, please keep communication on the platform",
	violation.SocialMediaLink:     "links to social media profiles are not allowed",
	violation.SocialMediaMention:  "moving the conversation to other messengers is not allowed",
	violation.ExternalPayment:     "payments outside the platform are not allowed",
	violation.ExternalTransaction: "transactions outside the platform are not allowed",
	violation.Spam:                "message looks like spam",
}

const defaultBlockedReason = "message violates the messaging policy"

// BlockedReason is the user-facing explanation for a category.
func BlockedReason(t violation.Type) string {
	if reason, ok := blockedReasons[t]; ok {
		return reason
	}
	return defaultBlockedReason
}
