package configs

// ProberType 表示流探测器类型
type ProberType string

const (
	// ProberAuto 根据流地址自动选择探测器
	ProberAuto ProberType = "auto"
	// ProberFFprobe 使用 ffprobe 进行探测
	ProberFFprobe ProberType = "ffprobe"
	// ProberNative 使用内置的 FLV / HLS 解析器
	ProberNative ProberType = "native"
)

// AllProberTypes 返回所有可用的探测器类型
func AllProberTypes() []ProberType {
	return []ProberType{
		ProberAuto,
		ProberFFprobe,
		ProberNative,
	}
}

// IsValid 检查探测器类型是否有效
func (p ProberType) IsValid() bool {
	switch p {
	case ProberAuto, ProberFFprobe, ProberNative:
		return true
	default:
		return false
	}
}

// String 返回探测器类型的字符串表示
func (p ProberType) String() string {
	return string(p)
}

// DisplayName 返回探测器类型的显示名称
func (p ProberType) DisplayName() string {
	switch p {
	case ProberAuto:
		return "自动选择"
	case ProberFFprobe:
		return "FFprobe"
	case ProberNative:
		return "内置 FLV/HLS 解析器"
	default:
		return string(p)
	}
}

// ParseProberType 将字符串解析为 ProberType，无法识别时回退到 auto
func ParseProberType(s string) ProberType {
	switch s {
	case "ffprobe":
		return ProberFFprobe
	case "native":
		return ProberNative
	default:
		return ProberAuto
	}
}
