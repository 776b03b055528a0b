package machine

// Executor запускает работу внешних коллабораторов (выделение сессии, генерация описаний).
// Результат работы возвращается в автомат событием через Fire.
type Executor func(task func())

// Inline выполняет задачу сразу в вызывающей горутине.
func Inline(task func()) { task() }

// Async выполняет задачу в отдельной горутине.
func Async(task func()) { go task() }
