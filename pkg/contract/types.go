package contract

// FileID: 宿主文件的逻辑标识（规范化路径，跨平台一致）。
type FileID string

// ArtifactID: 输出工件标识；文件系统 Writer 下即输出文件名。
type ArtifactID string
