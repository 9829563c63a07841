package domain

// MintedID is one identifier pair issued by the identity minting service.
type MintedID struct {
	UUID       string `json:"uuid"`
	ExternalID string `json:"sennet_id"`
}

// Group is an authorization group known to the authorization provider.
type Group struct {
	UUID         string `json:"uuid"`
	DisplayName  string `json:"displayname"`
	DataProvider bool   `json:"data_provider"`
}

// FileInfo describes a file committed to permanent storage.
type FileInfo struct {
	FileUUID string `json:"file_uuid"`
	Filename string `json:"filename"`
}
