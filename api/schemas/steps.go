package schemas

// -- Step Schemas --

// StepType identifies one primitive action inside a step script. The set is
// split by backend: page steps run against a browser page, device steps run
// against a mobile device. The interpreter treats unknown types as no-ops so
// that newer scripts remain runnable on older agents.
type StepType string

// Page backend step kinds.
const (
	StepNavigate           StepType = "navigate"
	StepClick              StepType = "click"
	StepFill               StepType = "fill"
	StepWait               StepType = "wait"
	StepWaitForVisible     StepType = "waitForVisible"
	StepCaptureScreenshot  StepType = "captureScreenshot"
	StepSelect             StepType = "select"
	StepAssertTextContains StepType = "assertTextContains"
	StepAssertVisible      StepType = "assertVisible"
)

// Device backend step kinds.
const (
	StepTap          StepType = "tap"
	StepLongPress    StepType = "longPress"
	StepInputText    StepType = "inputText"
	StepSwipe        StepType = "swipe"
	StepPressKey     StepType = "pressKey"
	StepLaunchApp    StepType = "launchApp"
	StepStopApp      StepType = "stopApp"
	StepClearAppData StepType = "clearAppData"
	StepUninstallApp StepType = "uninstallApp"
)

// Step is a single tagged-variant entry in a step script. Only the fields
// relevant to its Type are populated; the rest stay at their zero value and
// are omitted on the wire. Steps are immutable once part of a script and are
// identified by their index within it.
type Step struct {
	Type StepType `json:"type"`

	// Navigation / app targets.
	URL   string `json:"url,omitempty"`
	AppID string `json:"app_id,omitempty"`

	// Element reference for locator-based steps.
	Locator *Locator `json:"locator,omitempty"`

	// Text payloads: input for fill/inputText, expected value for assertions,
	// option value for select.
	Text     string `json:"text,omitempty"`
	Value    string `json:"value,omitempty"`
	Expected string `json:"expected,omitempty"`

	// Coordinate payloads for tap/longPress/swipe.
	Point *Point `json:"point,omitempty"`
	From  *Point `json:"from,omitempty"`
	To    *Point `json:"to,omitempty"`

	// DurationMs is the explicit delay for wait, the hold time for longPress
	// and the gesture time for swipe.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// KeyCode for pressKey.
	KeyCode int `json:"key_code,omitempty"`
}
