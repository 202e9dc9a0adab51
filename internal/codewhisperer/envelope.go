package codewhisperer

// Fixed metadata identifying the request as coming from an IDE plugin.
const (
	chatTriggerManual = "MANUAL"
	originIDE         = "IDE"
)

// envelope is the body of POST /generateAssistantResponse.
type envelope struct {
	ConversationState conversationState `json:"conversationState"`
	ProfileARN        string            `json:"profileArn,omitempty"`
}

type conversationState struct {
	ChatTriggerType string           `json:"chatTriggerType"`
	ConversationID  string           `json:"conversationId"`
	CurrentMessage  currentMessage   `json:"currentMessage"`
	History         []historyMessage `json:"history"`
}

type currentMessage struct {
	UserInputMessage userInputMessage `json:"userInputMessage"`
}

// historyMessage is always empty; every request starts a fresh conversation.
type historyMessage struct{}

type userInputMessage struct {
	Content                 string                  `json:"content"`
	Images                  []image                 `json:"images"`
	ModelID                 string                  `json:"modelId"`
	Origin                  string                  `json:"origin"`
	UserInputMessageContext userInputMessageContext `json:"userInputMessageContext"`
}

type image struct{}

type userInputMessageContext struct {
	EditorState editorState `json:"editorState"`
	EnvState    envState    `json:"envState"`
}

type editorState struct {
	UseRelevantDocuments bool     `json:"useRelevantDocuments"`
	WorkspaceFolders     []string `json:"workspaceFolders"`
}

type envState struct {
	OperatingSystem string `json:"operatingSystem"`
}

func newEnvelope(req Request, operatingSystem string) envelope {
	return envelope{
		ConversationState: conversationState{
			ChatTriggerType: chatTriggerManual,
			ConversationID:  req.ConversationID,
			CurrentMessage: currentMessage{
				UserInputMessage: userInputMessage{
					Content: req.Prompt,
					Images:  []image{},
					ModelID: req.ModelID,
					Origin:  originIDE,
					UserInputMessageContext: userInputMessageContext{
						EditorState: editorState{WorkspaceFolders: []string{}},
						EnvState:    envState{OperatingSystem: operatingSystem},
					},
				},
			},
			History: []historyMessage{},
		},
		ProfileARN: req.ProfileARN,
	}
}
