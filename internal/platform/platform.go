package platform

// Platform identifies one of the external video platforms a user can bind.
// The set is closed: the backend only knows these five.
type Platform string

const (
	Bilibili       Platform = "bilibili"
	YouTube        Platform = "youtube"
	Douyin         Platform = "douyin"
	Kuaishou       Platform = "kuaishou"
	WechatChannels Platform = "wechat_channels"
)

// Legacy is the primary platform whose bound account doubles as a login
// identity when no federated principal is present.
const Legacy = Bilibili

var all = []Platform{Bilibili, YouTube, Douyin, Kuaishou, WechatChannels}

// All returns the supported platforms in display order.
func All() []Platform {
	out := make([]Platform, len(all))
	copy(out, all)
	return out
}

// Supported reports whether p is one of the known platforms.
func Supported(p Platform) bool {
	for _, k := range all {
		if k == p {
			return true
		}
	}
	return false
}
