package translate

import "regexp"

// Rule rewrites a whole command into an English template
// The pattern must have a named group "object"; {object} in Template receives its translation
type Rule struct {
	Name     string
	Pattern  *regexp.Regexp
	Template string
}

// NounKind separates head nouns from modifiers so "红色的杯子" becomes "red cup"
type NounKind int

const (
	KindObject NounKind = iota
	KindColor
)

// Noun maps one source phrase to its English equivalent
type Noun struct {
	Source string
	Target string
	Kind   NounKind
}

const (
	politePrefix = `(?:请你|请)?(?:帮我|帮忙|麻烦你|给我)?`
	measureWords = `(?:一个|一瓶|一罐|一杯|一支|一把|一本|个|瓶|罐|杯|支|把|本|那个|这个)?`
)

// DefaultRules are tried in order; the first match wins
var DefaultRules = []Rule{
	{
		Name:     "grab",
		Pattern:  regexp.MustCompile(`^` + politePrefix + `(?:拿|取|递)(?:一下)?` + measureWords + `(?P<object>.+?)(?:给我|过来|来)?$`),
		Template: "grab the {object} to me",
	},
	{
		Name:     "bring",
		Pattern:  regexp.MustCompile(`^` + politePrefix + `把(?P<object>.+?)(?:拿|递|带)(?:给我|过来|来)$`),
		Template: "grab the {object} to me",
	},
	{
		Name:     "want",
		Pattern:  regexp.MustCompile(`^我(?:想要|要)` + measureWords + `(?P<object>.+?)$`),
		Template: "grab the {object} to me",
	},
	{
		Name:     "find",
		Pattern:  regexp.MustCompile(`^` + politePrefix + `(?:找一找|找一下|找到|寻找|找)` + measureWords + `(?P<object>.+?)(?:在哪里|在哪儿|在哪)?$`),
		Template: "find the {object}",
	},
	{
		Name:     "locate",
		Pattern:  regexp.MustCompile(`^` + politePrefix + `(?:识别|定位|检测)(?:一下)?(?:图中的|图片中的|图里的)?(?P<object>.+?)$`),
		Template: "locate the {object}",
	},
	{
		Name:     "show",
		Pattern:  regexp.MustCompile(`^` + politePrefix + `(?:看看|看一下|显示)(?P<object>.+?)(?:在哪里|在哪)?$`),
		Template: "show me the {object}",
	},
	{
		Name:     "where",
		Pattern:  regexp.MustCompile(`^(?P<object>.+?)在哪(?:里|儿)?(?:呢|啊|呀)?$`),
		Template: "find the {object}",
	},
}

// DefaultNouns lists compound entries before their parts
var DefaultNouns = []Noun{
	{"红色汽车", "red car", KindObject},
	{"蓝色卡车", "blue truck", KindObject},
	{"可口可乐", "coke", KindObject},
	{"可乐", "coke", KindObject},
	{"矿泉水", "water bottle", KindObject},
	{"手机", "phone", KindObject},
	{"水杯", "cup", KindObject},
	{"杯子", "cup", KindObject},
	{"瓶子", "bottle", KindObject},
	{"苹果", "apple", KindObject},
	{"香蕉", "banana", KindObject},
	{"橙子", "orange", KindObject},
	{"书包", "backpack", KindObject},
	{"书", "book", KindObject},
	{"笔记本电脑", "laptop", KindObject},
	{"电脑", "computer", KindObject},
	{"键盘", "keyboard", KindObject},
	{"鼠标", "mouse", KindObject},
	{"遥控器", "remote", KindObject},
	{"钥匙", "keys", KindObject},
	{"眼镜", "glasses", KindObject},
	{"雨伞", "umbrella", KindObject},
	{"剪刀", "scissors", KindObject},
	{"勺子", "spoon", KindObject},
	{"叉子", "fork", KindObject},
	{"刀", "knife", KindObject},
	{"碗", "bowl", KindObject},
	{"椅子", "chair", KindObject},
	{"桌子", "table", KindObject},
	{"自行车", "bicycle", KindObject},
	{"摩托车", "motorcycle", KindObject},
	{"公交车", "bus", KindObject},
	{"火车", "train", KindObject},
	{"飞机", "airplane", KindObject},
	{"汽车", "car", KindObject},
	{"卡车", "truck", KindObject},
	{"船", "boat", KindObject},
	{"猫", "cat", KindObject},
	{"狗", "dog", KindObject},
	{"包", "bag", KindObject},
	{"人", "person", KindObject},
	{"红色", "red", KindColor},
	{"蓝色", "blue", KindColor},
	{"绿色", "green", KindColor},
	{"黄色", "yellow", KindColor},
	{"黑色", "black", KindColor},
	{"白色", "white", KindColor},
	{"橙色", "orange", KindColor},
	{"紫色", "purple", KindColor},
}
