package model

// FileEntry is one item of a raw backend listing. Times are unix seconds.
type FileEntry struct {
	Path     string `json:"path"`
	IsDir    bool   `json:"isdir"`
	FsID     string `json:"fsid"`
	CTime    int64  `json:"ctime"`
	MTime    int64  `json:"mtime"`
	Size     int64  `json:"size"`
	MD5      string `json:"md5,omitempty"`
	MimeType string `json:"mimetype,omitempty"`
}

type UserInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

type StorageInfo struct {
	Total int64 `json:"total"`
	Used  int64 `json:"used"`
	Free  int64 `json:"free"`
}
