// Package locators maps logical element names to (strategy, value) lookup pairs.
package locators

import (
	"fmt"
	"strings"
)

// Strategy is a W3C/Appium element location strategy.
type Strategy string

// Location strategies understood by the Appium server.
const (
	AccessibilityID    Strategy = "accessibility id"
	ID                 Strategy = "id"
	XPath              Strategy = "xpath"
	ClassName          Strategy = "class name"
	AndroidUIAutomator Strategy = "-android uiautomator"
	IOSPredicate       Strategy = "-ios predicate string"
	IOSClassChain      Strategy = "-ios class chain"
)

var knownStrategies = map[Strategy]bool{
	AccessibilityID:    true,
	ID:                 true,
	XPath:              true,
	ClassName:          true,
	AndroidUIAutomator: true,
	IOSPredicate:       true,
	IOSClassChain:      true,
}

// ParseStrategy accepts the wire name or a short alias (accessibility_id, uiautomator, predicate, class_chain).
func ParseStrategy(s string) (Strategy, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	switch normalized {
	case "accessibility_id", "accessibilityid", "a11y":
		return AccessibilityID, nil
	case "class_name", "class":
		return ClassName, nil
	case "uiautomator", "android_uiautomator":
		return AndroidUIAutomator, nil
	case "predicate", "ios_predicate":
		return IOSPredicate, nil
	case "class_chain", "ios_class_chain":
		return IOSClassChain, nil
	}
	if knownStrategies[Strategy(normalized)] {
		return Strategy(normalized), nil
	}
	return "", fmt.Errorf("unknown locator strategy %q", s)
}

// Locator is a (strategy, value) lookup pair.
type Locator struct {
	Strategy Strategy `yaml:"strategy" json:"strategy"`
	Value    string   `yaml:"value" json:"value"`
}

// New returns a Locator.
func New(strategy Strategy, value string) Locator {
	return Locator{Strategy: strategy, Value: value}
}

// String renders the locator as ('strategy', 'value').
func (l Locator) String() string {
	return fmt.Sprintf("('%s', '%s')", l.Strategy, l.Value)
}

// IsZero reports whether the locator is unset.
func (l Locator) IsZero() bool {
	return l.Strategy == "" && l.Value == ""
}

// Validate checks that both parts are present and the strategy is known.
func (l Locator) Validate() error {
	if l.Value == "" {
		return fmt.Errorf("locator %s has an empty value", l)
	}
	if !knownStrategies[l.Strategy] {
		return fmt.Errorf("locator %s has unknown strategy", l)
	}
	return nil
}

// Common holds locators shared by the main menu screens of the demo app.
var Common = struct {
	TextLink     Locator
	ContentLink  Locator
	ViewsLink    Locator
	MenuElements Locator
	ImageButton  Locator
	TextField    Locator
}{
	TextLink:     New(AccessibilityID, "Text"),
	ContentLink:  New(AccessibilityID, "Content"),
	ViewsLink:    New(AccessibilityID, "Views"),
	MenuElements: New(XPath, "//android.widget.TextView"),
	ImageButton:  New(AccessibilityID, "ImageButton"),
	TextField:    New(AccessibilityID, "TextFields"),
}
