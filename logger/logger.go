package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DEBUG = iota
	INFO
	WARN
	ERROR
)

func ParseLevel(level string) int {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return DEBUG
	}
}

var levelMap = map[int][]byte{
	DEBUG: []byte("DEBUG"),
	INFO:  []byte("INFO"),
	WARN:  []byte("WARN"),
	ERROR: []byte("ERROR"),
}

var (
	leftBracket  = []byte("[")
	rightBracket = []byte("]")
	space        = []byte(" ")
	colon        = []byte(":")
	funcBracket  = []byte("()")
	lineFeed     = []byte("\n")
)

var (
	red     = []byte{27, 91, 51, 49, 109}
	green   = []byte{27, 91, 51, 50, 109}
	yellow  = []byte{27, 91, 51, 51, 109}
	blue    = []byte{27, 91, 51, 52, 109}
	magenta = []byte{27, 91, 51, 53, 109}
	cyan    = []byte{27, 91, 51, 54, 109}
	reset   = []byte{27, 91, 48, 109}
)

const (
	defaultFileMaxSize = 10485760
	logInfoChanSize    = 1000
	maxWriteCacheNum   = 1000
)

type Config struct {
	AppName      string    // 应用名 日志文件名前缀
	Level        int       // 最低日志级别
	TrackLine    bool      // 记录调用位置
	TrackThread  bool      // 记录协程id和线程id
	EnableFile   bool      // 写日志文件
	FileDir      string    // 日志文件目录
	FileMaxSize  int64     // 单个日志文件大小上限
	DisableColor bool      // 关闭终端颜色
	EnableJson   bool      // 参数以json格式输出
	Output       io.Writer // 终端输出 为空时使用标准错误
}

type Logger struct {
	config        *Config
	level         atomic.Int32
	fileTagMap    map[string]*os.File
	logInfoChan   chan *logInfo
	writeBuf      []byte
	writeCacheNum int32
	closeChan     chan struct{}
	closed        atomic.Bool
}

type logInfo struct {
	time        time.Time
	level       int
	msg         *[]byte
	fileName    string
	funcName    string
	line        int
	goroutineId string
	threadId    string
	trackLine   bool
	trackThread bool
	tag         string
}

var std atomic.Pointer[Logger]

// InitLogger starts the package logger used by Debug, Info, Warn and Error.
// Until it is called those functions discard their input.
func InitLogger(cfg *Config) *Logger {
	l := New(cfg)
	if old := std.Swap(l); old != nil {
		old.Close()
	}
	return l
}

// CloseLogger flushes and stops the package logger.
func CloseLogger() {
	if l := std.Swap(nil); l != nil {
		l.Close()
	}
}

func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = &Config{
			AppName:   "application",
			Level:     DEBUG,
			TrackLine: true,
		}
	}
	if cfg.AppName == "" {
		cfg.AppName = "application"
	}
	if cfg.FileDir == "" {
		cfg.FileDir = "./log"
	}
	if cfg.FileMaxSize == 0 {
		cfg.FileMaxSize = defaultFileMaxSize
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	l := &Logger{
		config:      cfg,
		fileTagMap:  make(map[string]*os.File),
		logInfoChan: make(chan *logInfo, logInfoChanSize),
		writeBuf:    make([]byte, 0),
		closeChan:   make(chan struct{}),
	}
	l.level.Store(int32(cfg.Level))
	go l.doLog()
	return l
}

func (l *Logger) SetLevel(level int) {
	l.level.Store(int32(level))
}

func (l *Logger) Enabled(level int) bool {
	return int32(level) >= l.level.Load() && !l.closed.Load()
}

func (l *Logger) Close() {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	l.closeChan <- struct{}{}
	<-l.closeChan
	for _, f := range l.fileTagMap {
		_ = f.Close()
	}
}

func (l *Logger) doLog() {
	var logBuf bytes.Buffer
	timeBuf := make([]byte, 0, 64)
	for {
		select {
		case <-l.closeChan:
			for {
				select {
				case info := <-l.logInfoChan:
					l.format(&logBuf, timeBuf, info)
				default:
					l.flush()
					l.closeChan <- struct{}{}
					return
				}
			}
		case info := <-l.logInfoChan:
			l.format(&logBuf, timeBuf, info)
		}
	}
}

func (l *Logger) format(logBuf *bytes.Buffer, timeBuf []byte, info *logInfo) {
	color := !l.config.DisableColor
	if color {
		logBuf.Write(cyan)
	}
	logBuf.Write(leftBracket)
	logBuf.Write(info.time.AppendFormat(timeBuf[:0], "2006-01-02 15:04:05.000"))
	logBuf.Write(rightBracket)
	if color {
		logBuf.Write(reset)
	}
	logBuf.Write(space)

	if color {
		switch info.level {
		case DEBUG:
			logBuf.Write(blue)
		case INFO:
			logBuf.Write(green)
		case WARN:
			logBuf.Write(yellow)
		case ERROR:
			logBuf.Write(red)
		}
	}
	logBuf.Write(leftBracket)
	logBuf.Write(levelMap[info.level])
	logBuf.Write(rightBracket)
	if color {
		logBuf.Write(reset)
	}
	logBuf.Write(space)

	if color && info.level == ERROR {
		logBuf.Write(red)
		logBuf.Write(*info.msg)
		logBuf.Write(reset)
	} else {
		logBuf.Write(*info.msg)
	}

	if info.trackLine {
		logBuf.Write(space)
		if color {
			logBuf.Write(magenta)
		}
		logBuf.Write(leftBracket)
		logBuf.WriteString(info.fileName)
		logBuf.Write(colon)
		logBuf.WriteString(strconv.Itoa(info.line))
		logBuf.Write(space)
		logBuf.WriteString(info.funcName)
		logBuf.Write(funcBracket)
		if info.trackThread {
			logBuf.WriteString(" goroutine:")
			logBuf.WriteString(info.goroutineId)
			logBuf.WriteString(" thread:")
			logBuf.WriteString(info.threadId)
		}
		logBuf.Write(rightBracket)
		if color {
			logBuf.Write(reset)
		}
	}
	logBuf.Write(lineFeed)

	l.writeLog(logBuf.Bytes(), info.tag)
	putBuf(info.msg)
	*info = logInfo{}
	logInfoPool.Put(info)
	logBuf.Reset()
}

func (l *Logger) writeLog(logData []byte, logTag string) {
	if l.config.EnableFile && logTag != "" {
		l.writeLogFile(logData, logTag)
	}
	l.writeBuf = append(l.writeBuf, logData...)
	l.writeCacheNum++
	if len(l.logInfoChan) != 0 && l.writeCacheNum < maxWriteCacheNum {
		return
	}
	l.flush()
}

func (l *Logger) flush() {
	if len(l.writeBuf) == 0 {
		return
	}
	_, _ = l.config.Output.Write(l.writeBuf)
	if l.config.EnableFile {
		l.writeLogFile(l.writeBuf, "")
	}
	l.writeBuf = l.writeBuf[0:0]
	l.writeCacheNum = 0
}

func (l *Logger) logFileName(logTag string) string {
	fileName := filepath.Join(l.config.FileDir, l.config.AppName+".log")
	if logTag != "" {
		fileName += "." + logTag
	}
	return fileName
}

func (l *Logger) openLogFile(logTag string) *os.File {
	file, err := os.OpenFile(l.logFileName(logTag), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		l.internalError("open new log file error: %v", err)
		return nil
	}
	l.fileTagMap[logTag] = file
	return file
}

func (l *Logger) writeLogFile(logData []byte, logTag string) {
	logFile := l.fileTagMap[logTag]
	if logFile == nil {
		logFile = l.openLogFile(logTag)
		if logFile == nil {
			return
		}
	}
	fileStat, err := logFile.Stat()
	if err != nil {
		l.internalError("get log file stat error: %v", err)
		return
	}
	if fileStat.Size() >= l.config.FileMaxSize {
		if err := logFile.Close(); err != nil {
			l.internalError("close old log file error: %v", err)
			return
		}
		delete(l.fileTagMap, logTag)
		timeStr := time.Now().Format("20060102150405")
		if err := os.Rename(logFile.Name(), logFile.Name()+"."+timeStr); err != nil {
			l.internalError("rename old log file error: %v", err)
			return
		}
		logFile = l.openLogFile(logTag)
		if logFile == nil {
			return
		}
	}
	if _, err := logFile.Write(logData); err != nil {
		l.internalError("write log file error: %v", err)
	}
}

func (l *Logger) internalError(format string, err error) {
	_, _ = l.config.Output.Write([]byte(string(red) + fmt.Sprintf(format, err) + string(reset) + "\n"))
}

var bufPool = sync.Pool{New: func() any { return new([]byte) }}

func getBuf() *[]byte {
	p := bufPool.Get().(*[]byte)
	*p = (*p)[0:0]
	return p
}

func putBuf(p *[]byte) {
	if cap(*p) > 64<<10 {
		*p = nil
	}
	bufPool.Put(p)
}

var logInfoPool = sync.Pool{New: func() any { return new(logInfo) }}

func (l *Logger) log(level int, msg string, param []any) {
	if !l.Enabled(level) {
		return
	}
	newMsg, logFlag := parseLogFlag(msg)
	info := logInfoPool.Get().(*logInfo)
	info.time = time.Now()
	info.level = level
	if l.config.EnableJson || logFlag.json {
		jsonList := make([]any, 0, len(param))
		for _, obj := range param {
			data, _ := json.Marshal(obj)
			jsonList = append(jsonList, string(data))
		}
		param = jsonList
	}
	buf := getBuf()
	*buf = fmt.Appendf(*buf, newMsg, param...)
	info.msg = buf
	if l.config.TrackLine || logFlag.line {
		info.fileName, info.line, info.funcName = getLineFunc(3)
		info.trackLine = true
	}
	if l.config.TrackThread || logFlag.thread {
		info.goroutineId = getGoroutineId()
		info.threadId = getThreadId()
		info.trackThread = true
	}
	info.tag = logFlag.tag
	l.logInfoChan <- info
}

type logFlag struct {
	tag    string
	json   bool
	line   bool
	thread bool
}

// parseLogFlag strips a leading flag block such as "@LogTag(coupled)@LogLine(true)|"
// from msg.
func parseLogFlag(msg string) (string, logFlag) {
	var flag logFlag
	if len(msg) == 0 || msg[0] != '@' {
		return msg, flag
	}
	end := strings.IndexByte(msg, '|')
	if end < 0 {
		return msg, logFlag{}
	}
	for _, item := range strings.Split(msg[1:end], "@") {
		open := strings.IndexByte(item, '(')
		if open < 0 || !strings.HasSuffix(item, ")") {
			return msg, logFlag{}
		}
		name, value := item[:open], item[open+1:len(item)-1]
		switch name {
		case "LogTag":
			flag.tag = value
		case "LogJson":
			flag.json = value == "true"
		case "LogLine":
			flag.line = value == "true"
		case "LogThread":
			flag.thread = value == "true"
		default:
			return msg, logFlag{}
		}
	}
	return msg[end+1:], flag
}

func (l *Logger) Debug(msg string, param ...any) { l.log(DEBUG, msg, param) }

func (l *Logger) Info(msg string, param ...any) { l.log(INFO, msg, param) }

func (l *Logger) Warn(msg string, param ...any) { l.log(WARN, msg, param) }

func (l *Logger) Error(msg string, param ...any) { l.log(ERROR, msg, param) }

func Debug(msg string, param ...any) {
	if l := std.Load(); l != nil {
		l.log(DEBUG, msg, param)
	}
}

func Info(msg string, param ...any) {
	if l := std.Load(); l != nil {
		l.log(INFO, msg, param)
	}
}

func Warn(msg string, param ...any) {
	if l := std.Load(); l != nil {
		l.log(WARN, msg, param)
	}
}

func Error(msg string, param ...any) {
	if l := std.Load(); l != nil {
		l.log(ERROR, msg, param)
	}
}

// IsEnabled reports whether the package logger would emit level. Hot paths
// check it before building arguments.
func IsEnabled(level int) bool {
	l := std.Load()
	return l != nil && l.Enabled(level)
}

func getGoroutineId() string {
	buf := make([]byte, 32)
	runtime.Stack(buf, false)
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}
	return string(buf)
}

func getLineFunc(skip int) (fileName string, line int, funcName string) {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???", -1, "???"
	}
	fileName = path.Base(file)
	funcName = runtime.FuncForPC(pc).Name()
	if i := strings.LastIndexByte(funcName, '.'); i >= 0 {
		funcName = funcName[i+1:]
	}
	return fileName, line, funcName
}

func Stack() string {
	buf := make([]byte, 1024)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			return string(buf[:n])
		}
		buf = make([]byte, 2*len(buf))
	}
}
