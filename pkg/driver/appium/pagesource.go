package appium

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/devicelab-dev/screen-runner/pkg/core"
	"github.com/devicelab-dev/screen-runner/pkg/locators"
)

// ParsedElement represents an element from page source XML.
// Handles both iOS and Android formats.
type ParsedElement struct {
	// Common
	Bounds    core.Bounds
	Enabled   bool
	Displayed bool
	Clickable bool
	Depth     int
	Parent    *ParsedElement
	Children  []*ParsedElement

	// Android
	Text        string
	ResourceID  string
	ContentDesc string
	ClassName   string

	// iOS
	Type  string // XCUIElementType
	Name  string // accessibility identifier
	Label string // accessibility label
	Value string // current value
}

// ParsePageSource parses page source XML into a flat, document-ordered element list.
// Auto-detects iOS vs Android format.
func ParsePageSource(xmlData string) ([]*ParsedElement, string, error) {
	// Detect platform by checking for iOS-specific markers
	platform := "android"
	if strings.Contains(xmlData, "XCUIElementType") || strings.Contains(xmlData, "AppiumAUT") {
		platform = "ios"
	}

	decoder := xml.NewDecoder(strings.NewReader(xmlData))
	var elements []*ParsedElement
	var stack []*ParsedElement
	foundRoot := false

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			if len(elements) == 0 {
				return nil, platform, err
			}
			break
		}

		switch t := token.(type) {
		case xml.StartElement:
			// Skip the hierarchy wrappers
			if t.Name.Local == "hierarchy" || t.Name.Local == "AppiumAUT" {
				foundRoot = true
				continue
			}

			var elem *ParsedElement
			if platform == "ios" {
				elem = parseIOSElement(t)
			} else {
				elem = parseAndroidElement(t)
			}
			elem.Depth = len(stack)
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				elem.Parent = parent
				parent.Children = append(parent.Children, elem)
			}
			elements = append(elements, elem)
			stack = append(stack, elem)

		case xml.EndElement:
			if t.Name.Local == "hierarchy" || t.Name.Local == "AppiumAUT" {
				continue
			}
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if !foundRoot && platform == "android" {
		return nil, platform, fmt.Errorf("invalid page source: no hierarchy element found")
	}
	if len(elements) == 0 {
		return nil, platform, fmt.Errorf("no elements found in page source")
	}
	return elements, platform, nil
}

func parseAndroidElement(t xml.StartElement) *ParsedElement {
	elem := &ParsedElement{
		ClassName: t.Name.Local,
		Displayed: true,
	}
	for _, attr := range t.Attr {
		switch attr.Name.Local {
		case "text":
			elem.Text = attr.Value
		case "resource-id":
			elem.ResourceID = attr.Value
		case "content-desc":
			elem.ContentDesc = attr.Value
		case "class":
			elem.ClassName = attr.Value
		case "bounds":
			elem.Bounds = parseBounds(attr.Value)
		case "enabled":
			elem.Enabled = attr.Value == "true"
		case "displayed":
			elem.Displayed = attr.Value != "false"
		case "clickable":
			elem.Clickable = attr.Value == "true"
		}
	}
	return elem
}

func parseIOSElement(t xml.StartElement) *ParsedElement {
	elem := &ParsedElement{
		Type:      t.Name.Local,
		Enabled:   true,
		Displayed: true,
	}
	for _, attr := range t.Attr {
		switch attr.Name.Local {
		case "type":
			elem.Type = attr.Value
		case "name":
			elem.Name = attr.Value
		case "label":
			elem.Label = attr.Value
		case "value":
			elem.Value = attr.Value
		case "enabled":
			elem.Enabled = attr.Value == "true"
		case "visible":
			elem.Displayed = attr.Value == "true"
		case "accessible":
			elem.Clickable = attr.Value == "true"
		case "x":
			elem.Bounds.X, _ = strconv.Atoi(attr.Value)
		case "y":
			elem.Bounds.Y, _ = strconv.Atoi(attr.Value)
		case "width":
			elem.Bounds.Width, _ = strconv.Atoi(attr.Value)
		case "height":
			elem.Bounds.Height, _ = strconv.Atoi(attr.Value)
		}
	}
	return elem
}

// parseBounds parses Android bounds string "[x1,y1][x2,y2]".
func parseBounds(s string) core.Bounds {
	s = strings.ReplaceAll(s, "][", ",")
	s = strings.Trim(s, "[]")
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return core.Bounds{}
	}

	x1, _ := strconv.Atoi(parts[0])
	y1, _ := strconv.Atoi(parts[1])
	x2, _ := strconv.Atoi(parts[2])
	y2, _ := strconv.Atoi(parts[3])

	return core.Bounds{
		X:      x1,
		Y:      y1,
		Width:  x2 - x1,
		Height: y2 - y1,
	}
}

// DisplayText returns the most descriptive text of the element.
func (e *ParsedElement) DisplayText() string {
	for _, s := range []string{e.Text, e.ContentDesc, e.Label, e.Name, e.Value} {
		if s != "" {
			return s
		}
	}
	return ""
}

// Class returns the element class (Android class name or iOS element type).
func (e *ParsedElement) Class() string {
	if e.Type != "" {
		return e.Type
	}
	return e.ClassName
}

// SuggestLocator proposes the most stable locator for an element:
// accessibility id, then resource id, then a text-based expression, then class.
func SuggestLocator(elem *ParsedElement, platform string) locators.Locator {
	if platform == "ios" {
		if elem.Name != "" {
			return locators.New(locators.AccessibilityID, elem.Name)
		}
		if elem.Label != "" {
			return locators.New(locators.IOSPredicate, fmt.Sprintf(`label == "%s"`, escapeQuoted(elem.Label)))
		}
		return locators.New(locators.IOSClassChain, "**/"+elem.Class())
	}

	if elem.ContentDesc != "" {
		return locators.New(locators.AccessibilityID, elem.ContentDesc)
	}
	if elem.ResourceID != "" {
		return locators.New(locators.ID, elem.ResourceID)
	}
	if elem.Text != "" {
		return locators.New(locators.AndroidUIAutomator, fmt.Sprintf(`new UiSelector().text("%s")`, escapeQuoted(elem.Text)))
	}
	return locators.New(locators.ClassName, elem.ClassName)
}

// escapeQuoted escapes quotes and backslashes for UiAutomator and predicate strings
func escapeQuoted(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}
