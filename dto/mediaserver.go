package dto

// ConfigDocument is the configuration pushed to the media server.
type ConfigDocument struct {
	Listener       ListenerConfig `json:"listener"`
	RepublishRules RuleSet        `json:"republishRules"`
	RuleCount      int            `json:"ruleCount"`
}

type ListenerConfig struct {
	Hash            string              `json:"hash"`
	Interfaces      []ListenerInterface `json:"interfaces"`
	DurationSeconds int                 `json:"durationSeconds"`
	ChunkCount      int                 `json:"chunkCount"`
}

type ListenerInterface struct {
	Ip   string `json:"ip"`
	Port int    `json:"port"`
	Ssl  bool   `json:"ssl"`
}

type RuleSet struct {
	Hash  string          `json:"hash"`
	Rules []RepublishRule `json:"rules"`
}

type RepublishRule struct {
	Id         string `json:"id"`
	SrcApp     string `json:"srcApp"`
	SrcStream  string `json:"srcStream"`
	DestAddr   string `json:"destAddr"`
	DestPort   int    `json:"destPort"`
	DestApp    string `json:"destApp"`
	DestStream string `json:"destStream"`
}

type PushResult struct {
	Document     *ConfigDocument `json:"document"`
	Written      bool            `json:"written"`
	BackupPath   string          `json:"backupPath,omitempty"`
	Reloaded     bool            `json:"reloaded"`
	ReloadMethod string          `json:"reloadMethod,omitempty"`
	WriteError   string          `json:"writeError,omitempty"`
}
